package repository

import (
	"context"

	"github.com/sakif/quizapp/internal/model"
)

// UserRepository persists the User aggregate.
//
// Lookups return apperror.ErrNotFound when nothing matches. Create returns
// apperror.ErrConflict when the email is taken; the store's unique constraint
// decides, so concurrent signups for one email cannot both succeed.
//
// AppendScore, AddFavourite, RemoveFavourite and ClearFavourites are single
// atomic updates in the store, so concurrent requests for the same user never
// lose each other's writes. Save is a full last-write-wins overwrite.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Save(ctx context.Context, user *model.User) error

	// AppendScore appends entry and adds earned to the diamond balance,
	// returning the new balance. A credit that would take the balance past
	// model.MaxDiamonds stores nothing and returns apperror.ErrValidation.
	AppendScore(ctx context.Context, userID string, entry model.ScoreEntry, earned int) (int, error)

	// AddFavourite appends fav unless an existing entry is a duplicate of it
	// (model.FavouriteEntry.IsDuplicateOf), in which case it returns
	// apperror.ErrDuplicate. Returns the updated list.
	AddFavourite(ctx context.Context, userID string, fav model.FavouriteEntry) ([]model.FavouriteEntry, error)

	// RemoveFavourite drops every entry matching key
	// (model.FavouriteEntry.MatchesRemovalKey). Matching nothing is not an error.
	RemoveFavourite(ctx context.Context, userID, key string) ([]model.FavouriteEntry, error)

	ClearFavourites(ctx context.Context, userID string) error

	Ping(ctx context.Context) error
	Close() error
}
