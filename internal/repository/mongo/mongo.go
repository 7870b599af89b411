// Package mongo implements repository.UserRepository on MongoDB. Each user is
// one document with scores and favourites embedded as arrays, so every
// mutation is a single-document atomic update.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sakif/quizapp/internal/apperror"
	"github.com/sakif/quizapp/internal/model"
	"github.com/sakif/quizapp/internal/repository"
)

// UserCollection is the collection holding user documents.
const UserCollection = "users"

// compile-time check that *MongoDB implements repository.UserRepository
var _ repository.UserRepository = (*MongoDB)(nil)

// MongoDB is a MongoDB adapter for persistence.
type MongoDB struct {
	client         *mongo.Client
	userCollection *mongo.Collection
	nowFunc        func() time.Time
}

// MongoDBArgs are the mandatory arguments for the creation of a MongoDB.
type MongoDBArgs struct {
	// Client is a connected mongo client. Close disconnects it.
	Client *mongo.Client

	// Database is the name of the database holding the users collection.
	Database string
}

// MongoDBOptArgs are the optional arguments for building a MongoDB.
type MongoDBOptArgs = func(*MongoDB)

// WithNowFunc can be used to override the nowFunc. Useful for testing.
func WithNowFunc(nowFunc func() time.Time) MongoDBOptArgs {
	return func(p *MongoDB) {
		p.nowFunc = nowFunc
	}
}

// NewMongoDB creates a new MongoDB.
func NewMongoDB(args MongoDBArgs, optArgs ...MongoDBOptArgs) (*MongoDB, error) {
	if args.Client == nil {
		return nil, errors.New("mongo: nil client")
	}
	if args.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	p := &MongoDB{
		client:         args.Client,
		userCollection: args.Client.Database(args.Database).Collection(UserCollection),
		nowFunc:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range optArgs {
		opt(p)
	}
	return p, nil
}

// Connect dials uri, checks the server answers, and ensures indexes exist.
func Connect(ctx context.Context, uri, database string, optArgs ...MongoDBOptArgs) (*MongoDB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connecting: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: pinging: %w", err)
	}

	p, err := NewMongoDB(MongoDBArgs{Client: client, Database: database}, optArgs...)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := p.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return p, nil
}

// EnsureIndexes creates the unique email index. Creating an index that
// already exists is a no-op.
func (p *MongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := p.userCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_unique"),
	})
	if err != nil {
		return fmt.Errorf("mongo: creating email index: %w", err)
	}
	return nil
}

// Ping reports whether the server is reachable.
func (p *MongoDB) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (p *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.client.Disconnect(ctx)
}

// Create inserts user. ID is generated when empty and CreatedAt defaults to
// nowFunc. A taken email is reported as apperror.ErrConflict by the unique
// index.
func (p *MongoDB) Create(ctx context.Context, user *model.User) error {
	if user == nil {
		return errors.New("nil user passed to create method")
	}

	doc, err := p.toDBModel(user)
	if err != nil {
		return err
	}
	if _, err := p.userCollection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("user", "this email")
		}
		return fmt.Errorf("mongo: inserting user: %w", err)
	}

	user.ID = doc.ID.Hex()
	user.CreatedAt = doc.CreatedAt
	return nil
}

// GetByID retrieves a user. A malformed id cannot exist, so it is reported as
// apperror.ErrNotFound like any other miss.
func (p *MongoDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, apperror.NotFound("user", id)
	}
	return p.findOne(ctx, bson.D{{Key: "_id", Value: objectID}}, id)
}

// GetByEmail retrieves a user by exact email match.
func (p *MongoDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return p.findOne(ctx, bson.D{{Key: "email", Value: email}}, email)
}

// Save replaces the whole document. Last write wins.
func (p *MongoDB) Save(ctx context.Context, user *model.User) error {
	if user == nil {
		return errors.New("nil user passed to save method")
	}
	objectID, err := primitive.ObjectIDFromHex(user.ID)
	if err != nil {
		return apperror.NotFound("user", user.ID)
	}

	doc, err := p.toDBModel(user)
	if err != nil {
		return err
	}
	res, err := p.userCollection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: objectID}}, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperror.Conflict("user", "this email")
		}
		return fmt.Errorf("mongo: replacing user %s: %w", user.ID, err)
	}
	if res.MatchedCount < 1 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// AppendScore pushes entry and increments diamonds in one update.
func (p *MongoDB) AppendScore(ctx context.Context, userID string, entry model.ScoreEntry, earned int) (int, error) {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return 0, apperror.NotFound("user", userID)
	}

	if earned < 0 || earned > model.MaxDiamonds {
		return 0, errDiamondLimit()
	}

	filter := bson.D{
		{Key: "_id", Value: objectID},
		{Key: "diamonds", Value: bson.D{{Key: "$lte", Value: model.MaxDiamonds - earned}}},
	}
	update := bson.D{
		{Key: "$push", Value: bson.D{{Key: "scores", Value: toScoreDB(entry)}}},
		{Key: "$inc", Value: bson.D{{Key: "diamonds", Value: earned}}},
	}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "diamonds", Value: 1}})

	var got struct {
		Diamonds int `bson:"diamonds"`
	}
	err = p.userCollection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&got)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// either the user is gone or the balance is full
			if err := p.requireUser(ctx, objectID, userID); err != nil {
				return 0, err
			}
			return 0, errDiamondLimit()
		}
		return 0, fmt.Errorf("mongo: appending score for %s: %w", userID, err)
	}
	return got.Diamonds, nil
}

// AddFavourite pushes fav only if no element of favourites carries the same
// id (or, without an id, the same question). The check is part of the update
// filter, so it is atomic with the push.
func (p *MongoDB) AddFavourite(ctx context.Context, userID string, fav model.FavouriteEntry) ([]model.FavouriteEntry, error) {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperror.NotFound("user", userID)
	}

	dupField, dupValue := "favourites.question", fav.Question
	if fav.ExternalID != "" {
		dupField, dupValue = "favourites.external_id", fav.ExternalID
	}
	filter := bson.D{
		{Key: "_id", Value: objectID},
		{Key: dupField, Value: bson.D{{Key: "$ne", Value: dupValue}}},
	}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "favourites", Value: toFavouriteDB(fav)}}}}

	favourites, err := p.updateFavourites(ctx, filter, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if err := p.requireUser(ctx, objectID, userID); err != nil {
			return nil, err
		}
		return nil, apperror.Duplicate("favourites", "this question")
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: adding favourite for %s: %w", userID, err)
	}
	return favourites, nil
}

// RemoveFavourite pulls entries whose id equals key, or, for entries without
// an id, whose question equals key.
func (p *MongoDB) RemoveFavourite(ctx context.Context, userID, key string) ([]model.FavouriteEntry, error) {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, apperror.NotFound("user", userID)
	}

	match := bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "external_id", Value: bson.D{{Key: "$ne", Value: ""}, {Key: "$eq", Value: key}}}},
		bson.D{{Key: "external_id", Value: ""}, {Key: "question", Value: key}},
	}}}
	update := bson.D{{Key: "$pull", Value: bson.D{{Key: "favourites", Value: match}}}}

	favourites, err := p.updateFavourites(ctx, bson.D{{Key: "_id", Value: objectID}}, update)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperror.NotFound("user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: removing favourite for %s: %w", userID, err)
	}
	return favourites, nil
}

// ClearFavourites sets favourites to an empty array.
func (p *MongoDB) ClearFavourites(ctx context.Context, userID string) error {
	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return apperror.NotFound("user", userID)
	}

	update := bson.D{{Key: "$set", Value: bson.D{{Key: "favourites", Value: bson.A{}}}}}
	res, err := p.userCollection.UpdateByID(ctx, objectID, update)
	if err != nil {
		return fmt.Errorf("mongo: clearing favourites of %s: %w", userID, err)
	}
	if res.MatchedCount < 1 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

func (p *MongoDB) findOne(ctx context.Context, filter bson.D, key string) (*model.User, error) {
	doc := new(userDB)
	if err := p.userCollection.FindOne(ctx, filter).Decode(doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("mongo: finding user: %w", err)
	}
	user := translateDBToModel(doc)
	return &user, nil
}

// updateFavourites applies update and returns the favourites array as it is
// after the update. mongo.ErrNoDocuments means filter matched nothing.
func (p *MongoDB) updateFavourites(ctx context.Context, filter, update bson.D) ([]model.FavouriteEntry, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.D{{Key: "favourites", Value: 1}})

	var got struct {
		Favourites []favouriteDB `bson:"favourites"`
	}
	if err := p.userCollection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&got); err != nil {
		return nil, err
	}
	return translateFavourites(got.Favourites), nil
}

func (p *MongoDB) requireUser(ctx context.Context, objectID primitive.ObjectID, userID string) error {
	n, err := p.userCollection.CountDocuments(ctx, bson.D{{Key: "_id", Value: objectID}}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("mongo: looking up user %s: %w", userID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (p *MongoDB) toDBModel(user *model.User) (*userDB, error) {
	doc := &userDB{
		Email:        user.Email,
		FullName:     user.FullName,
		PasswordHash: user.PasswordHash,
		Diamonds:     user.Diamonds,
		Scores:       make([]scoreDB, 0, len(user.Scores)),
		Favourites:   make([]favouriteDB, 0, len(user.Favourites)),
		CreatedAt:    user.CreatedAt,
	}
	if user.ID == "" {
		doc.ID = primitive.NewObjectID()
	} else {
		var err error
		if doc.ID, err = primitive.ObjectIDFromHex(user.ID); err != nil {
			return nil, fmt.Errorf("mongo: invalid user id %q: %w", user.ID, err)
		}
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = p.nowFunc()
	}
	for _, s := range user.Scores {
		doc.Scores = append(doc.Scores, toScoreDB(s))
	}
	for _, f := range user.Favourites {
		doc.Favourites = append(doc.Favourites, toFavouriteDB(f))
	}
	return doc, nil
}

func toScoreDB(s model.ScoreEntry) scoreDB {
	return scoreDB{
		Score:          s.Score,
		Category:       s.Category,
		CorrectAnswers: s.CorrectAnswers,
		RecordedAt:     s.RecordedAt,
	}
}

func toFavouriteDB(f model.FavouriteEntry) favouriteDB {
	choices := f.Options
	if choices == nil {
		choices = []string{}
	}
	return favouriteDB{
		Question:   f.Question,
		Options:    choices,
		Answer:     f.Answer,
		ExternalID: f.ExternalID,
		AddedAt:    f.AddedAt,
	}
}

func translateDBToModel(doc *userDB) model.User {
	scores := make([]model.ScoreEntry, len(doc.Scores))
	for i, s := range doc.Scores {
		scores[i] = model.ScoreEntry{
			Score:          s.Score,
			Category:       s.Category,
			CorrectAnswers: s.CorrectAnswers,
			RecordedAt:     s.RecordedAt,
		}
	}
	return model.User{
		ID:           doc.ID.Hex(),
		Email:        doc.Email,
		FullName:     doc.FullName,
		PasswordHash: doc.PasswordHash,
		Scores:       scores,
		Favourites:   translateFavourites(doc.Favourites),
		Diamonds:     doc.Diamonds,
		CreatedAt:    doc.CreatedAt,
	}
}

func translateFavourites(docs []favouriteDB) []model.FavouriteEntry {
	favourites := make([]model.FavouriteEntry, len(docs))
	for i, f := range docs {
		choices := f.Options
		if choices == nil {
			choices = []string{}
		}
		favourites[i] = model.FavouriteEntry{
			Question:   f.Question,
			Options:    choices,
			Answer:     f.Answer,
			ExternalID: f.ExternalID,
			AddedAt:    f.AddedAt,
		}
	}
	return favourites
}

type userDB struct {
	// ID unique identifier of the user.
	ID primitive.ObjectID `bson:"_id"`

	// Email is unique across the collection (email_unique index).
	Email string `bson:"email"`

	FullName string `bson:"full_name"`

	PasswordHash string `bson:"password_hash"`

	// Diamonds is only ever changed with $inc outside of Save.
	Diamonds int `bson:"diamonds"`

	// Scores and Favourites are always written as arrays, never null, so
	// $push works on them.
	Scores     []scoreDB     `bson:"scores"`
	Favourites []favouriteDB `bson:"favourites"`

	CreatedAt time.Time `bson:"created_at"`
}

type scoreDB struct {
	Score          int       `bson:"score"`
	Category       string    `bson:"category"`
	CorrectAnswers int       `bson:"correct_answers"`
	RecordedAt     time.Time `bson:"recorded_at"`
}

type favouriteDB struct {
	Question string   `bson:"question"`
	Options  []string `bson:"options"`
	Answer   string   `bson:"answer"`

	// ExternalID is stored as "" when absent so removal can match on it.
	ExternalID string    `bson:"external_id"`
	AddedAt    time.Time `bson:"added_at"`
}

func errDiamondLimit() *apperror.AppError {
	return apperror.ValidationFailed("correctAnswers", "diamond balance limit reached")
}
