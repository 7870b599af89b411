package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/model"
)

// newTestDB opens a fresh in-memory database that is closed when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser creates a user and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, email string) *model.User {
	t.Helper()
	user := &model.User{
		Email:        email,
		FullName:     "Test User",
		PasswordHash: "$2a$04$hash",
	}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func favourite(id, question string) model.FavouriteEntry {
	return model.FavouriteEntry{
		Question:   question,
		Options:    []string{"a", "b", "c"},
		Answer:     "a",
		ExternalID: id,
		AddedAt:    time.Now().UTC(),
	}
}

// =========================================================================
// MIGRATION TESTS
// =========================================================================

func TestNew_ReopenFileIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiz.db")

	db, err := New(path)
	if err != nil {
		t.Fatalf("New() first open error = %v", err)
	}
	createTestUser(t, db, "persist@example.com")
	db.Close()

	// second open must find the schema up to date and the data intact
	db, err = New(path)
	if err != nil {
		t.Fatalf("New() second open error = %v", err)
	}
	defer db.Close()

	if _, err := db.GetByEmail(context.Background(), "persist@example.com"); err != nil {
		t.Fatalf("GetByEmail() after reopen error = %v", err)
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

// =========================================================================
// CREATE / GET TESTS
// =========================================================================

func TestCreate(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{Email: "new@example.com", FullName: "New", PasswordHash: "h"}
	if err := db.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if user.ID == "" {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}

	found, err := db.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Email != "new@example.com" || found.FullName != "New" || found.PasswordHash != "h" {
		t.Errorf("GetByID() = %+v, fields not persisted", found)
	}
	if found.Diamonds != 0 {
		t.Errorf("Diamonds = %d, want 0", found.Diamonds)
	}
	if found.Scores == nil || len(found.Scores) != 0 {
		t.Errorf("Scores = %#v, want empty non-nil slice", found.Scores)
	}
	if found.Favourites == nil || len(found.Favourites) != 0 {
		t.Errorf("Favourites = %#v, want empty non-nil slice", found.Favourites)
	}
	if d := found.CreatedAt.Sub(user.CreatedAt); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("CreatedAt = %v, want %v", found.CreatedAt, user.CreatedAt)
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "dup@example.com")

	err := db.Create(context.Background(), &model.User{Email: "dup@example.com", FullName: "Other", PasswordHash: "h"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Create() error = %v, want ErrConflict", err)
	}
}

func TestCreate_EmailIsCaseSensitive(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "case@example.com")

	if err := db.Create(context.Background(), &model.User{Email: "Case@example.com", FullName: "C", PasswordHash: "h"}); err != nil {
		t.Fatalf("Create() with different case error = %v", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent-id")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestGetByEmail(t *testing.T) {
	db := newTestDB(t)
	created := createTestUser(t, db, "lookup@example.com")

	found, err := db.GetByEmail(context.Background(), "lookup@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	if found.ID != created.ID {
		t.Errorf("ID = %q, want %q", found.ID, created.ID)
	}

	_, err = db.GetByEmail(context.Background(), "LOOKUP@example.com")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetByEmail() with different case error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SCORE TESTS
// =========================================================================

func TestAppendScore(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "score@example.com")
	ctx := context.Background()

	first := model.ScoreEntry{Score: 4, Category: "history", CorrectAnswers: 2, RecordedAt: time.Now().UTC()}
	total, err := db.AppendScore(ctx, user.ID, first, 10)
	if err != nil {
		t.Fatalf("AppendScore() error = %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}

	second := model.ScoreEntry{Score: 7, Category: "math", CorrectAnswers: 3, RecordedAt: time.Now().UTC()}
	total, err = db.AppendScore(ctx, user.ID, second, 15)
	if err != nil {
		t.Fatalf("AppendScore() error = %v", err)
	}
	if total != 25 {
		t.Errorf("total = %d, want 25", total)
	}

	found, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Diamonds != 25 {
		t.Errorf("Diamonds = %d, want 25", found.Diamonds)
	}
	if len(found.Scores) != 2 {
		t.Fatalf("len(Scores) = %d, want 2", len(found.Scores))
	}
	if found.Scores[1].Category != "math" || found.Scores[1].Score != 7 || found.Scores[1].CorrectAnswers != 3 {
		t.Errorf("last score = %+v, want the math entry", found.Scores[1])
	}
}

func TestAppendScore_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	_, err := db.AppendScore(context.Background(), "ghost", model.ScoreEntry{Score: 1, Category: "x"}, 5)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("AppendScore() error = %v, want ErrNotFound", err)
	}
}

func TestAppendScore_ConcurrentSubmissionsAreNotLost(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "race@example.com")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := model.ScoreEntry{Score: i, Category: "race", CorrectAnswers: 1, RecordedAt: time.Now().UTC()}
			if _, err := db.AppendScore(context.Background(), user.ID, entry, 5); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("AppendScore() error = %v", err)
	}

	found, err := db.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(found.Scores) != n {
		t.Errorf("len(Scores) = %d, want %d", len(found.Scores), n)
	}
	if found.Diamonds != 5*n {
		t.Errorf("Diamonds = %d, want %d", found.Diamonds, 5*n)
	}
}

func TestAppendScore_BalanceLimit(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "rich@example.com")
	ctx := context.Background()

	user.Diamonds = model.MaxDiamonds - 3
	if err := db.Save(ctx, user); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entry := model.ScoreEntry{Score: 1, Category: "math", CorrectAnswers: 1, RecordedAt: time.Now().UTC()}
	if _, err := db.AppendScore(ctx, user.ID, entry, 5); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("AppendScore() error = %v, want ErrValidation", err)
	}
	if _, err := db.AppendScore(ctx, user.ID, entry, -5); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("AppendScore(negative) error = %v, want ErrValidation", err)
	}

	found, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.Diamonds != model.MaxDiamonds-3 {
		t.Errorf("Diamonds = %d, want unchanged %d", found.Diamonds, model.MaxDiamonds-3)
	}
	if len(found.Scores) != 0 {
		t.Errorf("rejected credit stored %d scores", len(found.Scores))
	}

	total, err := db.AppendScore(ctx, user.ID, entry, 3)
	if err != nil {
		t.Fatalf("AppendScore() up to the limit error = %v", err)
	}
	if total != model.MaxDiamonds {
		t.Errorf("total = %d, want %d", total, model.MaxDiamonds)
	}
}

// =========================================================================
// FAVOURITE TESTS
// =========================================================================

func TestAddFavourite(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "fav@example.com")
	ctx := context.Background()

	favs, err := db.AddFavourite(ctx, user.ID, favourite("q1", "What is 2+2?"))
	if err != nil {
		t.Fatalf("AddFavourite() error = %v", err)
	}
	if len(favs) != 1 {
		t.Fatalf("len(favourites) = %d, want 1", len(favs))
	}
	got := favs[0]
	if got.ExternalID != "q1" || got.Question != "What is 2+2?" || got.Answer != "a" {
		t.Errorf("favourite = %+v", got)
	}
	if len(got.Options) != 3 || got.Options[2] != "c" {
		t.Errorf("Options = %v, want [a b c]", got.Options)
	}
}

func TestAddFavourite_Duplicates(t *testing.T) {
	tests := []struct {
		name     string
		existing model.FavouriteEntry
		incoming model.FavouriteEntry
		wantDup  bool
	}{
		{"same id, different question", favourite("q1", "A?"), favourite("q1", "B?"), true},
		{"different id, same question", favourite("q1", "A?"), favourite("q2", "A?"), false},
		{"no ids, same question", favourite("", "A?"), favourite("", "A?"), true},
		{"no id incoming, existing with id and same question", favourite("q1", "A?"), favourite("", "A?"), true},
		{"id incoming, existing without id and same question", favourite("", "A?"), favourite("q1", "A?"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			user := createTestUser(t, db, "dups@example.com")
			ctx := context.Background()

			if _, err := db.AddFavourite(ctx, user.ID, tt.existing); err != nil {
				t.Fatalf("AddFavourite(existing) error = %v", err)
			}

			favs, err := db.AddFavourite(ctx, user.ID, tt.incoming)
			if tt.wantDup {
				if !errors.Is(err, apperror.ErrDuplicate) {
					t.Fatalf("AddFavourite() error = %v, want ErrDuplicate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddFavourite() error = %v", err)
			}
			if len(favs) != 2 {
				t.Errorf("len(favourites) = %d, want 2", len(favs))
			}
		})
	}
}

func TestAddFavourite_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	_, err := db.AddFavourite(context.Background(), "ghost", favourite("q1", "A?"))
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("AddFavourite() error = %v, want ErrNotFound", err)
	}
}

func TestRemoveFavourite(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "remove@example.com")
	ctx := context.Background()

	for _, f := range []model.FavouriteEntry{
		favourite("q1", "With id?"),
		favourite("", "Without id?"),
		favourite("q3", "Without id?"),
	} {
		if _, err := db.AddFavourite(ctx, user.ID, f); err != nil {
			t.Fatalf("AddFavourite() error = %v", err)
		}
	}

	// question text of an entry WITH an id does not remove it
	favs, err := db.RemoveFavourite(ctx, user.ID, "With id?")
	if err != nil {
		t.Fatalf("RemoveFavourite() error = %v", err)
	}
	if len(favs) != 3 {
		t.Fatalf("len(favourites) = %d, want 3 (no-op)", len(favs))
	}

	// question text removes only the entry without an id
	favs, err = db.RemoveFavourite(ctx, user.ID, "Without id?")
	if err != nil {
		t.Fatalf("RemoveFavourite() error = %v", err)
	}
	if len(favs) != 2 || favs[0].ExternalID != "q1" || favs[1].ExternalID != "q3" {
		t.Fatalf("favourites = %+v, want q1 and q3", favs)
	}

	favs, err = db.RemoveFavourite(ctx, user.ID, "q1")
	if err != nil {
		t.Fatalf("RemoveFavourite() error = %v", err)
	}
	if len(favs) != 1 || favs[0].ExternalID != "q3" {
		t.Fatalf("favourites = %+v, want only q3", favs)
	}
}

func TestRemoveFavourite_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	_, err := db.RemoveFavourite(context.Background(), "ghost", "q1")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("RemoveFavourite() error = %v, want ErrNotFound", err)
	}
}

func TestClearFavourites(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "clear@example.com")
	other := createTestUser(t, db, "other@example.com")
	ctx := context.Background()

	for _, id := range []string{"q1", "q2", "q3"} {
		if _, err := db.AddFavourite(ctx, user.ID, favourite(id, "Question "+id)); err != nil {
			t.Fatalf("AddFavourite() error = %v", err)
		}
	}
	if _, err := db.AddFavourite(ctx, other.ID, favourite("q1", "Question q1")); err != nil {
		t.Fatalf("AddFavourite(other) error = %v", err)
	}

	if err := db.ClearFavourites(ctx, user.ID); err != nil {
		t.Fatalf("ClearFavourites() error = %v", err)
	}
	// clearing an empty list is fine
	if err := db.ClearFavourites(ctx, user.ID); err != nil {
		t.Fatalf("ClearFavourites() second call error = %v", err)
	}

	found, _ := db.GetByID(ctx, user.ID)
	if len(found.Favourites) != 0 {
		t.Errorf("len(Favourites) = %d, want 0", len(found.Favourites))
	}
	untouched, _ := db.GetByID(ctx, other.ID)
	if len(untouched.Favourites) != 1 {
		t.Errorf("other user's favourites = %d, want 1", len(untouched.Favourites))
	}

	if err := db.ClearFavourites(ctx, "ghost"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("ClearFavourites(ghost) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// SAVE TESTS
// =========================================================================

func TestSave_OverwritesAggregate(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, "save@example.com")
	ctx := context.Background()

	if _, err := db.AppendScore(ctx, user.ID, model.ScoreEntry{Score: 1, Category: "old", RecordedAt: time.Now().UTC()}, 0); err != nil {
		t.Fatalf("AppendScore() error = %v", err)
	}

	loaded, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	loaded.FullName = "Renamed"
	loaded.Diamonds = 40
	loaded.Scores = append(loaded.Scores, model.ScoreEntry{Score: 9, Category: "new", CorrectAnswers: 8, RecordedAt: time.Now().UTC()})
	loaded.Favourites = []model.FavouriteEntry{favourite("q9", "Saved?")}

	if err := db.Save(ctx, loaded); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	found, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if found.FullName != "Renamed" || found.Diamonds != 40 {
		t.Errorf("profile = %+v, want renamed with 40 diamonds", found)
	}
	if len(found.Scores) != 2 || found.Scores[0].Category != "old" || found.Scores[1].Category != "new" {
		t.Errorf("Scores = %+v, want old then new", found.Scores)
	}
	if len(found.Favourites) != 1 || found.Favourites[0].ExternalID != "q9" {
		t.Errorf("Favourites = %+v, want q9", found.Favourites)
	}
}

func TestSave_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.Save(context.Background(), &model.User{ID: "ghost", Email: "g@example.com"})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("Save() error = %v, want ErrNotFound", err)
	}
}

func TestSave_EmailTakenByAnotherUser(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "taken@example.com")
	user := createTestUser(t, db, "mine@example.com")

	user.Email = "taken@example.com"
	if err := db.Save(context.Background(), user); !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Save() error = %v, want ErrConflict", err)
	}
}
