package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/digkill/faceswapbot/internal/models"
	"github.com/digkill/faceswapbot/pkg/logger"
)

const (
	usersCollection = "users"
	maxCASAttempts  = 5
)

// MongoUserStore keeps one document per user. Updates are a compare-and-swap
// on the version field: the replace only matches the version that was read.
type MongoUserStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoUserStore(ctx context.Context, uri, database string, log *slog.Logger) (*MongoUserStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	collection := client.Database(database).Collection(usersCollection)
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "telegram_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("create users index", logger.Err(err))
	}

	return &MongoUserStore{client: client, collection: collection}, nil
}

func (s *MongoUserStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoUserStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoUserStore) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	var u models.User
	err := s.collection.FindOne(ctx, bson.M{"telegram_id": telegramID}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (s *MongoUserStore) Ensure(ctx context.Context, profile models.Profile, now time.Time) (*models.User, bool, error) {
	user, err := s.Update(ctx, profile.TelegramID, func(u *models.User) error {
		applyProfile(u, profile, now)
		return nil
	})
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	created := newUser(profile, profile.TelegramID, now)
	if _, err := s.collection.InsertOne(ctx, created); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, getErr := s.Get(ctx, profile.TelegramID)
			return existing, false, getErr
		}
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	return created, true, nil
}

func (s *MongoUserStore) Update(ctx context.Context, telegramID int64, fn func(u *models.User) error) (*models.User, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.Get(ctx, telegramID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, nil
			}
			return nil, err
		}
		next.Version = current.Version + 1

		filter := bson.M{"telegram_id": telegramID, "version": current.Version}
		res, err := s.collection.ReplaceOne(ctx, filter, next)
		if err != nil {
			return nil, fmt.Errorf("replace user: %w", err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return nil, ErrConflict
}

func (s *MongoUserStore) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	cursor, err := s.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"telegram_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []int64
	for cursor.Next(ctx) {
		var doc struct {
			TelegramID int64 `bson:"telegram_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode telegram id: %w", err)
		}
		ids = append(ids, doc.TelegramID)
	}
	return ids, cursor.Err()
}
