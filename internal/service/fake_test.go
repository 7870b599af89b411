package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/auth"
	"github.com/sakif/quizapp/internal/model"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeUserRepo is an in-memory repository.UserRepository. It applies the
// same de-duplication and removal rules as the real stores, under a mutex.
type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]*model.User
	byEmail map[string]string
	nextID  int

	// set to a non-nil error to simulate a store failure
	getErr    error
	createErr error
	appendErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		nextID:  1,
	}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byEmail[user.Email]; ok {
		return apperror.Conflict("user", "this email")
	}
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	user.CreatedAt = time.Now().UTC()
	f.users[user.ID] = cloneUser(user)
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	return cloneUser(u), nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	id, ok := f.byEmail[email]
	if !ok {
		return nil, apperror.NotFound("user", email)
	}
	return cloneUser(f.users[id]), nil
}

func (f *fakeUserRepo) Save(ctx context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; !ok {
		return apperror.NotFound("user", user.ID)
	}
	f.users[user.ID] = cloneUser(user)
	return nil
}

func (f *fakeUserRepo) AppendScore(ctx context.Context, userID string, entry model.ScoreEntry, earned int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	u, ok := f.users[userID]
	if !ok {
		return 0, apperror.NotFound("user", userID)
	}
	if u.Diamonds > model.MaxDiamonds-earned {
		return 0, apperror.ValidationFailed("correctAnswers", "diamond balance limit reached")
	}
	u.Scores = append(u.Scores, entry)
	u.Diamonds += earned
	return u.Diamonds, nil
}

func (f *fakeUserRepo) AddFavourite(ctx context.Context, userID string, fav model.FavouriteEntry) ([]model.FavouriteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}
	for _, existing := range u.Favourites {
		if fav.IsDuplicateOf(existing) {
			return nil, apperror.Duplicate("favourites", "this question")
		}
	}
	u.Favourites = append(u.Favourites, fav)
	return cloneFavourites(u.Favourites), nil
}

func (f *fakeUserRepo) RemoveFavourite(ctx context.Context, userID, key string) ([]model.FavouriteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, apperror.NotFound("user", userID)
	}
	kept := u.Favourites[:0]
	for _, fav := range u.Favourites {
		if !fav.MatchesRemovalKey(key) {
			kept = append(kept, fav)
		}
	}
	u.Favourites = kept
	return cloneFavourites(u.Favourites), nil
}

func (f *fakeUserRepo) ClearFavourites(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.Favourites = []model.FavouriteEntry{}
	return nil
}

func (f *fakeUserRepo) Ping(ctx context.Context) error { return nil }
func (f *fakeUserRepo) Close() error                   { return nil }

// seed stores user directly and returns its ID.
func (f *fakeUserRepo) seed(t *testing.T, user *model.User) string {
	t.Helper()
	if err := f.Create(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	return user.ID
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Scores = append([]model.ScoreEntry{}, u.Scores...)
	c.Favourites = cloneFavourites(u.Favourites)
	return &c
}

func cloneFavourites(in []model.FavouriteEntry) []model.FavouriteEntry {
	return append([]model.FavouriteEntry{}, in...)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAccountService wires an AccountService with fast bcrypt (cost 4).
func newTestAccountService(t *testing.T, repo *fakeUserRepo) (*AccountService, *auth.TokenService) {
	t.Helper()

	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	ps := auth.NewPasswordServiceForTest(4)

	return NewAccountService(repo, ts, ps, newTestLogger()), ts
}

func intPtr(n int) *int { return &n }

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
