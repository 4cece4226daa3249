package history

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// namespaceExists is the server error code for CreateCollection racing
// another process that created the same collection.
const namespaceExists = 48

// MongoStore keeps one flat document per record in a MongoDB collection
// named after the index.
type MongoStore struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	index      string
	limit      int
}

type mongoRecord struct {
	ID     primitive.ObjectID `bson:"_id,omitempty"`
	Room   string             `bson:"room"`
	Answer string             `bson:"answer"`
	Date   time.Time          `bson:"date"`
	Fields map[string]any     `bson:",inline"`
}

// NewMongoStore connects to uri and verifies the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database, index string, limit int) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if index == "" {
		index = DefaultIndex
	}
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{
		client:     client,
		db:         db,
		collection: db.Collection(index),
		index:      index,
		limit:      replayLimit(limit),
	}, nil
}

// Database exposes the connected database so related collections can share
// the client.
func (ms *MongoStore) Database() *mongo.Database { return ms.db }

func (ms *MongoStore) EnsureSchema(ctx context.Context) error {
	names, err := ms.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: ms.index}})
	if err != nil {
		return err
	}
	if len(names) > 0 {
		return nil
	}
	if err := ms.db.CreateCollection(ctx, ms.index); err != nil {
		var cmdErr mongo.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Code != namespaceExists {
			return err
		}
	}
	_, err = ms.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "room", Value: 1},
			{Key: "date", Value: 1},
		},
		Options: options.Index().SetName("room_date"),
	})
	return err
}

func (ms *MongoStore) Append(ctx context.Context, rec Record) error {
	if _, err := ms.collection.InsertOne(ctx, toMongoRecord(rec)); err != nil {
		return persistenceError(err)
	}
	return nil
}

func (ms *MongoStore) ReplayAll(ctx context.Context, room string) ([]Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(ms.limit))
	cursor, err := ms.collection.Find(ctx, bson.D{{Key: "room", Value: room}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []Record
	for cursor.Next(ctx) {
		var doc mongoRecord
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, doc.toRecord())
	}
	return records, cursor.Err()
}

func (ms *MongoStore) Close(ctx context.Context) error {
	return ms.client.Disconnect(ctx)
}

func toMongoRecord(rec Record) mongoRecord {
	doc := mongoRecord{
		Room:   rec.Room,
		Answer: rec.Answer,
		Date:   rec.Date.UTC(),
		Fields: make(map[string]any, len(rec.Fields)),
	}
	for k, v := range rec.Fields {
		if k == "_id" {
			continue
		}
		doc.Fields[k] = v
	}
	return doc
}

func (doc mongoRecord) toRecord() Record {
	rec := Record{
		Answer: doc.Answer,
		Date:   doc.Date,
		Room:   doc.Room,
	}
	if len(doc.Fields) > 0 {
		rec.Fields = make(map[string]any, len(doc.Fields))
		for k, v := range doc.Fields {
			rec.Fields[k] = v
		}
	}
	return rec
}
