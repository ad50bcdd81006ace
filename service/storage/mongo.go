package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"chatwire/service/chat"
)

const (
	collMessages = "messages"
	collRooms    = "rooms"
	collCounters = "counters"
)

// RoomRecord is the authoritative room document; Members is the membership
// the gateway's index re-checks against.
type RoomRecord struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Members   []string  `bson:"members"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoStore backs the gateway's persistence: messages, room membership and
// sequence segments.
type MongoStore struct {
	client   *mongo.Client
	messages *mongo.Collection
	rooms    *mongo.Collection
	counters *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}
	db := cli.Database(dbName)
	return &MongoStore{
		client:   cli,
		messages: db.Collection(collMessages),
		rooms:    db.Collection(collRooms),
		counters: db.Collection(collCounters),
	}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes builds the (room, seq) unique index so a sequence number can
// never be written twice into one room.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "room_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "sent_at", Value: -1}},
		},
	})
	if err != nil {
		return errors.Wrap(err, "messages indexes")
	}
	_, err = s.rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "members", Value: 1}},
	})
	return errors.Wrap(err, "rooms index")
}

// IsMember answers the authoritative membership question.
func (s *MongoStore) IsMember(ctx context.Context, identity, roomID string) (bool, error) {
	n, err := s.rooms.CountDocuments(ctx, bson.M{"_id": roomID, "members": identity})
	if err != nil {
		return false, errors.Wrap(err, "count membership")
	}
	return n > 0, nil
}

func (s *MongoStore) LoadRoomMembers(ctx context.Context, roomID string) ([]string, error) {
	var rec RoomRecord
	err := s.rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load room")
	}
	return rec.Members, nil
}

// SaveMessage persists the event; the router broadcasts only after this
// returns nil.
func (s *MongoStore) SaveMessage(ctx context.Context, ev *chat.MessageEvent) error {
	_, err := s.messages.InsertOne(ctx, ev)
	return errors.Wrap(err, "insert message")
}

// MaxSeq seeds the in-memory sequencer with the highest persisted sequence.
func (s *MongoStore) MaxSeq(ctx context.Context, roomID string) (int64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetProjection(bson.M{"seq": 1})
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := s.messages.FindOne(ctx, bson.M{"room_id": roomID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "max seq")
	}
	return doc.Seq, nil
}

// AllocSegment claims a contiguous [start, end] sequence block for the room,
// atomically via $inc on the counters document.
func (s *MongoStore) AllocSegment(ctx context.Context, roomID string, block int64) (int64, int64, error) {
	if block <= 0 {
		block = 1
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "room_seq:" + roomID},
		bson.M{"$inc": bson.M{"value": block}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, 0, errors.Wrap(err, "alloc segment")
	}
	return doc.Value - block + 1, doc.Value, nil
}

// CreateRoom inserts the authoritative room document; used by fixtures and
// the room admin path outside this gateway.
func (s *MongoStore) CreateRoom(ctx context.Context, roomID, name string, members []string) error {
	_, err := s.rooms.InsertOne(ctx, RoomRecord{
		ID:        roomID,
		Name:      name,
		Members:   members,
		CreatedAt: time.Now(),
	})
	return errors.Wrap(err, "insert room")
}

// AddMember adds an identity to the room's member set.
func (s *MongoStore) AddMember(ctx context.Context, roomID, identity string) error {
	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$addToSet": bson.M{"members": identity}},
	)
	return errors.Wrap(err, "add member")
}
