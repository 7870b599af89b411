package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const selectUser = `SELECT id, email, full_name, password_hash, diamonds, created_at FROM users`

// Create inserts a new user together with any scores and favourites already
// on it. ID is generated (xid) when empty and CreatedAt defaults to now.
//
// A taken email surfaces as apperror.ErrConflict from the UNIQUE constraint,
// so two concurrent signups for the same address cannot both succeed.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, email, full_name, password_hash, diamonds, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID,
			user.Email,
			user.FullName,
			user.PasswordHash,
			user.Diamonds,
			user.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("user", "this email")
			}
			return fmt.Errorf("sqlite: inserting user %s: %w", user.ID, err)
		}

		return insertChildren(ctx, tx, user)
	})
}

// GetByID retrieves a user and its scores and favourites.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := loadUser(ctx, db.conn, selectUser+` WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// GetByEmail retrieves a user by exact email match.
// Returns apperror.ErrNotFound if no user has that email.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := loadUser(ctx, db.conn, selectUser+` WHERE email = ?`, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return user, nil
}

// Save overwrites the stored aggregate with user: profile columns are
// updated and the scores and favourites rows are replaced. Last write wins.
func (db *DB) Save(ctx context.Context, user *model.User) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET email = ?, full_name = ?, password_hash = ?, diamonds = ?
			 WHERE id = ?`,
			user.Email,
			user.FullName,
			user.PasswordHash,
			user.Diamonds,
			user.ID,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("user", "this email")
			}
			return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		} else if n == 0 {
			return apperror.NotFound("user", user.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM scores WHERE user_id = ?`, user.ID); err != nil {
			return fmt.Errorf("sqlite: clearing scores of %s: %w", user.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM favourites WHERE user_id = ?`, user.ID); err != nil {
			return fmt.Errorf("sqlite: clearing favourites of %s: %w", user.ID, err)
		}

		return insertChildren(ctx, tx, user)
	})
}

// AppendScore inserts entry and increments diamonds by earned in one
// transaction, then returns the new balance. The increment is done by SQL
// (diamonds = diamonds + ?), never by writing back a value read earlier.
func (db *DB) AppendScore(ctx context.Context, userID string, entry model.ScoreEntry, earned int) (int, error) {
	var total int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if earned < 0 || earned > model.MaxDiamonds {
			return errDiamondLimit()
		}
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET diamonds = diamonds + ? WHERE id = ? AND diamonds <= ?`,
			earned, userID, model.MaxDiamonds-earned)
		if err != nil {
			return fmt.Errorf("sqlite: crediting diamonds to %s: %w", userID, err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		} else if n == 0 {
			// either the user is gone or the balance is full
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("user", userID)
			}
			if err != nil {
				return fmt.Errorf("sqlite: looking up user %s: %w", userID, err)
			}
			return errDiamondLimit()
		}

		if err := insertScore(ctx, tx, userID, entry); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT diamonds FROM users WHERE id = ?`, userID,
		).Scan(&total); err != nil {
			return fmt.Errorf("sqlite: reading diamonds of %s: %w", userID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AddFavourite inserts fav unless a duplicate exists. The duplicate check and
// the insert are one INSERT ... SELECT ... WHERE NOT EXISTS statement, so two
// concurrent adds of the same question cannot both land.
func (db *DB) AddFavourite(ctx context.Context, userID string, fav model.FavouriteEntry) ([]model.FavouriteEntry, error) {
	// incoming id → compare ids; no id → compare question text
	dupColumn, dupValue := "question", fav.Question
	if fav.ExternalID != "" {
		dupColumn, dupValue = "external_id", fav.ExternalID
	}

	options, err := encodeOptions(fav.Options)
	if err != nil {
		return nil, err
	}

	var favourites []model.FavouriteEntry
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO favourites (user_id, question, options, answer, external_id, added_at)
			 SELECT ?, ?, ?, ?, ?, ?
			 WHERE EXISTS (SELECT 1 FROM users WHERE id = ?)
			   AND NOT EXISTS (SELECT 1 FROM favourites WHERE user_id = ? AND `+dupColumn+` = ?)`,
			userID, fav.Question, options, fav.Answer, fav.ExternalID, fav.AddedAt,
			userID,
			userID, dupValue,
		)
		if err != nil {
			return fmt.Errorf("sqlite: adding favourite for %s: %w", userID, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if n == 0 {
			if err := requireUser(ctx, tx, userID); err != nil {
				return err
			}
			return apperror.Duplicate("favourites", "this question")
		}

		favourites, err = listFavourites(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return favourites, nil
}

// RemoveFavourite deletes entries matching key: by external_id when the entry
// has one, otherwise by question text. Matching nothing is not an error.
func (db *DB) RemoveFavourite(ctx context.Context, userID, key string) ([]model.FavouriteEntry, error) {
	var favourites []model.FavouriteEntry
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`DELETE FROM favourites
			 WHERE user_id = ?
			   AND ((external_id <> '' AND external_id = ?) OR (external_id = '' AND question = ?))`,
			userID, key, key,
		)
		if err != nil {
			return fmt.Errorf("sqlite: removing favourite for %s: %w", userID, err)
		}

		favourites, err = listFavourites(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return favourites, nil
}

// ClearFavourites deletes all of the user's favourites in one statement.
func (db *DB) ClearFavourites(ctx context.Context, userID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM favourites WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("sqlite: clearing favourites of %s: %w", userID, err)
		}
		return nil
	})
}

// =========================================================================
// HELPERS
// =========================================================================

func loadUser(ctx context.Context, q querier, query string, arg any) (*model.User, error) {
	var u model.User
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.Diamonds,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if u.Scores, err = listScores(ctx, q, u.ID); err != nil {
		return nil, err
	}
	if u.Favourites, err = listFavourites(ctx, q, u.ID); err != nil {
		return nil, err
	}
	return &u, nil
}

func listScores(ctx context.Context, q querier, userID string) ([]model.ScoreEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT score, category, correct_answers, recorded_at
		 FROM scores WHERE user_id = ? ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scores of %s: %w", userID, err)
	}
	defer rows.Close()

	scores := []model.ScoreEntry{}
	for rows.Next() {
		var s model.ScoreEntry
		if err := rows.Scan(&s.Score, &s.Category, &s.CorrectAnswers, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning score row: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating scores: %w", err)
	}
	return scores, nil
}

func listFavourites(ctx context.Context, q querier, userID string) ([]model.FavouriteEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT question, options, answer, external_id, added_at
		 FROM favourites WHERE user_id = ? ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing favourites of %s: %w", userID, err)
	}
	defer rows.Close()

	favourites := []model.FavouriteEntry{}
	for rows.Next() {
		var (
			f       model.FavouriteEntry
			options string
		)
		if err := rows.Scan(&f.Question, &options, &f.Answer, &f.ExternalID, &f.AddedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning favourite row: %w", err)
		}
		if f.Options, err = decodeOptions(options); err != nil {
			return nil, err
		}
		favourites = append(favourites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating favourites: %w", err)
	}
	return favourites, nil
}

func insertChildren(ctx context.Context, tx *sql.Tx, user *model.User) error {
	for _, s := range user.Scores {
		if err := insertScore(ctx, tx, user.ID, s); err != nil {
			return err
		}
	}
	for _, f := range user.Favourites {
		options, err := encodeOptions(f.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO favourites (user_id, question, options, answer, external_id, added_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.ID, f.Question, options, f.Answer, f.ExternalID, f.AddedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting favourite for %s: %w", user.ID, err)
		}
	}
	return nil
}

func insertScore(ctx context.Context, tx *sql.Tx, userID string, s model.ScoreEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO scores (user_id, score, category, correct_answers, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, s.Score, s.Category, s.CorrectAnswers, s.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting score for %s: %w", userID, err)
	}
	return nil
}

// requireUser returns apperror.ErrNotFound when userID does not exist.
func requireUser(ctx context.Context, q querier, userID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.NotFound("user", userID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: looking up user %s: %w", userID, err)
	}
	return nil
}

func encodeOptions(options []string) (string, error) {
	if options == nil {
		options = []string{}
	}
	b, err := json.Marshal(options)
	if err != nil {
		return "", fmt.Errorf("sqlite: encoding favourite options: %w", err)
	}
	return string(b), nil
}

func decodeOptions(raw string) ([]string, error) {
	options := []string{}
	if raw == "" {
		return options, nil
	}
	if err := json.Unmarshal([]byte(raw), &options); err != nil {
		return nil, fmt.Errorf("sqlite: decoding favourite options: %w", err)
	}
	return options, nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// primary code only, when extended codes are off
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func errDiamondLimit() *apperror.AppError {
	return apperror.ValidationFailed("correctAnswers", "diamond balance limit reached")
}
