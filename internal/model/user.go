// Package model defines the data structures used throughout the application.
package model

import "time"

// DiamondsPerCorrectAnswer is the reward paid for each correct answer in a
// submitted quiz.
const DiamondsPerCorrectAnswer = 5

// MaxCorrectAnswers is the most correct answers one submission may claim.
const MaxCorrectAnswers = 1000

// MaxDiamonds caps a balance at the largest integer a JSON number holds
// exactly. Credits that would pass it are refused.
const MaxDiamonds = 1<<53 - 1

// User is the account aggregate. Scores and favourites are owned by the user
// and have no identity of their own.
//
// PasswordHash is tagged json:"-" so a User can never leak it, even if a
// handler encodes the whole struct by mistake. Handlers send Profile instead.
type User struct {
	ID           string           `json:"id"`
	Email        string           `json:"email"`
	FullName     string           `json:"fullName"`
	PasswordHash string           `json:"-"`
	Scores       []ScoreEntry     `json:"scores"`
	Favourites   []FavouriteEntry `json:"favourites"`
	Diamonds     int              `json:"diamonds"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// ScoreEntry is one submitted quiz result. Entries are append-only and kept
// in submission order.
type ScoreEntry struct {
	Score          int       `json:"score"`
	Category       string    `json:"category"`
	CorrectAnswers int       `json:"correctAnswers"`
	RecordedAt     time.Time `json:"date"`
}

// DiamondsEarned is the reward for this entry.
func (s ScoreEntry) DiamondsEarned() int {
	return DiamondsEarnedFor(s.CorrectAnswers)
}

// DiamondsEarnedFor returns the diamonds paid for n correct answers.
func DiamondsEarnedFor(n int) int {
	return DiamondsPerCorrectAnswer * n
}

// FavouriteEntry is a quiz question saved by the user.
//
// ExternalID is the question's id in the client's question bank. It is
// optional: questions without one are identified by their text.
type FavouriteEntry struct {
	Question   string    `json:"question"`
	Options    []string  `json:"options"`
	Answer     string    `json:"answer"`
	ExternalID string    `json:"id,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
}

// Key returns the value that identifies this entry for de-duplication and
// removal: ExternalID when set, otherwise Question.
func (f FavouriteEntry) Key() string {
	if f.ExternalID != "" {
		return f.ExternalID
	}
	return f.Question
}

// IsDuplicateOf reports whether f, as an incoming entry, collides with
// existing. An incoming entry with an ExternalID is compared by ExternalID;
// one without is compared by question text.
func (f FavouriteEntry) IsDuplicateOf(existing FavouriteEntry) bool {
	if f.ExternalID != "" {
		return existing.ExternalID == f.ExternalID
	}
	return existing.Question == f.Question
}

// MatchesRemovalKey reports whether a DELETE for key removes f: entries with
// an ExternalID match on it, entries without one match on their question.
func (f FavouriteEntry) MatchesRemovalKey(key string) bool {
	if f.ExternalID != "" {
		return f.ExternalID == key
	}
	return f.Question == key
}

// Profile is the public view of a User returned by auth endpoints.
type Profile struct {
	ID        string       `json:"id"`
	Email     string       `json:"email"`
	FullName  string       `json:"fullName"`
	Scores    []ScoreEntry `json:"scores"`
	Diamonds  int          `json:"diamonds"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Profile returns the public view of u. Scores is never nil so it encodes as [].
func (u *User) Profile() Profile {
	scores := u.Scores
	if scores == nil {
		scores = []ScoreEntry{}
	}
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		FullName:  u.FullName,
		Scores:    scores,
		Diamonds:  u.Diamonds,
		CreatedAt: u.CreatedAt,
	}
}
