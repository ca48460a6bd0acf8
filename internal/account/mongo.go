package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	usersCollection         = "users"
	subscriptionsCollection = "subscriptions"
)

type userDocument struct {
	ID            string    `bson:"_id"`
	Username      string    `bson:"username"`
	Email         string    `bson:"email"`
	FullName      string    `bson:"fullName"`
	PasswordHash  string    `bson:"password"`
	AvatarURL     string    `bson:"avatar"`
	CoverImageURL string    `bson:"coverImage"`
	RefreshToken  string    `bson:"refreshToken,omitempty"`
	WatchHistory  []string  `bson:"watchHistory"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

func (d userDocument) account() Account {
	return Account{
		ID:            d.ID,
		Username:      d.Username,
		Email:         d.Email,
		FullName:      d.FullName,
		PasswordHash:  d.PasswordHash,
		AvatarURL:     d.AvatarURL,
		CoverImageURL: d.CoverImageURL,
		RefreshToken:  d.RefreshToken,
		WatchHistory:  d.WatchHistory,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

type channelDocument struct {
	ID                        string `bson:"_id"`
	Username                  string `bson:"username"`
	Email                     string `bson:"email"`
	FullName                  string `bson:"fullName"`
	AvatarURL                 string `bson:"avatar"`
	CoverImageURL             string `bson:"coverImage"`
	SubscribersCount          int64  `bson:"subscribersCount"`
	ChannelsSubscribedToCount int64  `bson:"channelsSubscribedToCount"`
	IsSubscribed              bool   `bson:"isSubscribed"`
}

// MongoStore keeps accounts in a "users" collection and subscription edges
// in "subscriptions", mirroring the original document layout.
type MongoStore struct {
	client        *mongodriver.Client
	users         *mongodriver.Collection
	subscriptions *mongodriver.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(database)
	s := &MongoStore{
		client:        cli,
		users:         db.Collection(usersCollection),
		subscriptions: db.Collection(subscriptionsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetName("username_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetName("email_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "fullName", Value: 1}},
			Options: options.Index().SetName("full_name"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure user indexes: %w", err)
	}

	_, err = s.subscriptions.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "subscriber", Value: 1}, {Key: "channel", Value: 1}},
			Options: options.Index().SetName("subscriber_channel_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "channel", Value: 1}},
			Options: options.Index().SetName("channel"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo ensure subscription indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) findOne(ctx context.Context, op string, filter bson.D) (Account, error) {
	var doc userDocument
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return doc.account(), nil
}

func (s *MongoStore) FindByID(ctx context.Context, id string) (Account, error) {
	return s.findOne(ctx, "mongo find user by id", bson.D{{Key: "_id", Value: id}})
}

func (s *MongoStore) FindByUsernameOrEmail(ctx context.Context, username, email string) (Account, error) {
	var or bson.A
	if username != "" {
		or = append(or, bson.D{{Key: "username", Value: username}})
	}
	if email != "" {
		or = append(or, bson.D{{Key: "email", Value: email}})
	}
	if len(or) == 0 {
		return Account{}, ErrNotFound
	}
	return s.findOne(ctx, "mongo find user by username or email", bson.D{{Key: "$or", Value: or}})
}

func (s *MongoStore) Insert(ctx context.Context, a Account) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	a.ID = id.String()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.WatchHistory == nil {
		a.WatchHistory = []string{}
	}

	_, err = s.users.InsertOne(ctx, userDocument{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FullName:      a.FullName,
		PasswordHash:  a.PasswordHash,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
		RefreshToken:  a.RefreshToken,
		WatchHistory:  a.WatchHistory,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	})
	if err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, fmt.Errorf("mongo insert user: %w", err)
	}
	return a, nil
}

func (s *MongoStore) updateAndReturn(ctx context.Context, op, id string, set bson.D) (Account, error) {
	set = append(set, bson.E{Key: "updatedAt", Value: time.Now().UTC()})

	var doc userDocument
	err := s.users.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return Account{}, ErrNotFound
		}
		if mongodriver.IsDuplicateKeyError(err) {
			return Account{}, ErrDuplicate
		}
		return Account{}, fmt.Errorf("%s: %w", op, err)
	}
	return doc.account(), nil
}

func (s *MongoStore) UpdateProfile(ctx context.Context, id, fullName, email string) (Account, error) {
	return s.updateAndReturn(ctx, "mongo update user profile", id, bson.D{
		{Key: "fullName", Value: fullName},
		{Key: "email", Value: email},
	})
}

func (s *MongoStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.updateAndReturn(ctx, "mongo update user password", id, bson.D{
		{Key: "password", Value: passwordHash},
	})
	return err
}

func (s *MongoStore) UpdateMedia(ctx context.Context, id string, field MediaField, url string) (Account, error) {
	if !field.Valid() {
		return Account{}, fmt.Errorf("unknown media field %q", field)
	}
	return s.updateAndReturn(ctx, "mongo update user "+string(field), id, bson.D{
		{Key: string(field), Value: url},
	})
}

func (s *MongoStore) SetRefreshToken(ctx context.Context, id, token string) error {
	_, err := s.updateAndReturn(ctx, "mongo set refresh token", id, bson.D{
		{Key: "refreshToken", Value: token},
	})
	return err
}

func (s *MongoStore) ClearRefreshToken(ctx context.Context, id string) error {
	res, err := s.users.UpdateByID(ctx, id, bson.D{
		{Key: "$unset", Value: bson.D{{Key: "refreshToken", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}},
	})
	if err != nil {
		return fmt.Errorf("mongo clear refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) RotateRefreshToken(ctx context.Context, id, presented, next string) error {
	if presented == "" {
		return ErrTokenMismatch
	}

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "refreshToken", Value: presented}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "refreshToken", Value: next},
			{Key: "updatedAt", Value: time.Now().UTC()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("mongo rotate refresh token: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrTokenMismatch
	}
	return nil
}

// ChannelProfile joins users against subscriptions twice, once per side of
// the edge, and sizes both arrays.
func (s *MongoStore) ChannelProfile(ctx context.Context, username, viewerID string) (ChannelView, error) {
	pipeline := mongodriver.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "username", Value: username}}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: subscriptionsCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "channel"},
			{Key: "as", Value: "subscribers"},
		}}},
		{{Key: "$lookup", Value: bson.D{
			{Key: "from", Value: subscriptionsCollection},
			{Key: "localField", Value: "_id"},
			{Key: "foreignField", Value: "subscriber"},
			{Key: "as", Value: "subscribedTo"},
		}}},
		{{Key: "$addFields", Value: bson.D{
			{Key: "subscribersCount", Value: bson.D{{Key: "$size", Value: "$subscribers"}}},
			{Key: "channelsSubscribedToCount", Value: bson.D{{Key: "$size", Value: "$subscribedTo"}}},
			{Key: "isSubscribed", Value: bson.D{{Key: "$cond", Value: bson.D{
				{Key: "if", Value: bson.D{{Key: "$in", Value: bson.A{viewerID, "$subscribers.subscriber"}}}},
				{Key: "then", Value: true},
				{Key: "else", Value: false},
			}}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "username", Value: 1},
			{Key: "email", Value: 1},
			{Key: "fullName", Value: 1},
			{Key: "avatar", Value: 1},
			{Key: "coverImage", Value: 1},
			{Key: "subscribersCount", Value: 1},
			{Key: "channelsSubscribedToCount", Value: 1},
			{Key: "isSubscribed", Value: 1},
		}}},
	}

	cursor, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return ChannelView{}, fmt.Errorf("mongo aggregate channel profile: %w", err)
	}

	var docs []channelDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return ChannelView{}, fmt.Errorf("mongo decode channel profile: %w", err)
	}
	if len(docs) == 0 {
		return ChannelView{}, ErrNotFound
	}

	d := docs[0]
	return ChannelView{
		ID:                        d.ID,
		Username:                  d.Username,
		Email:                     d.Email,
		FullName:                  d.FullName,
		AvatarURL:                 d.AvatarURL,
		CoverImageURL:             d.CoverImageURL,
		SubscribersCount:          d.SubscribersCount,
		ChannelsSubscribedToCount: d.ChannelsSubscribedToCount,
		IsSubscribed:              viewerID != "" && d.IsSubscribed,
	}, nil
}

func (s *MongoStore) Subscribe(ctx context.Context, subscriberID, channelID string) error {
	for _, id := range []string{subscriberID, channelID} {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
	}

	_, err := s.subscriptions.UpdateOne(ctx,
		bson.D{{Key: "subscriber", Value: subscriberID}, {Key: "channel", Value: channelID}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{{Key: "createdAt", Value: time.Now().UTC()}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongodriver.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongo upsert subscription: %w", err)
	}
	return nil
}

func (s *MongoStore) Unsubscribe(ctx context.Context, subscriberID, channelID string) error {
	_, err := s.subscriptions.DeleteOne(ctx, bson.D{
		{Key: "subscriber", Value: subscriberID},
		{Key: "channel", Value: channelID},
	})
	if err != nil {
		return fmt.Errorf("mongo delete subscription: %w", err)
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
