// Package retrieval looks up documents related to a conversation summary so
// they can be shown next to it.
package retrieval

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	// DefaultCollection holds the searchable documents.
	DefaultCollection = "blogs"
	// DefaultTopK is the number of hits attached to a summary.
	DefaultTopK = 5
)

// Document is one search hit.
type Document struct {
	ID    string         `json:"id"`
	Score float64        `json:"score"`
	Body  map[string]any `json:"body"`
}

// Retriever finds documents matching a free-text query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}

// MongoRetriever runs a $text query against a collection carrying a text
// index and returns hits ordered by text score.
type MongoRetriever struct {
	collection *mongo.Collection
}

// NewMongoRetriever searches the named collection of db.
func NewMongoRetriever(db *mongo.Database, collection string) *MongoRetriever {
	if collection == "" {
		collection = DefaultCollection
	}
	return &MongoRetriever{collection: db.Collection(collection)}
}

func (mr *MongoRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	if query == "" {
		return nil, errors.New("retrieval: empty query")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	score := bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "textScore"}}}}
	opts := options.Find().
		SetProjection(score).
		SetSort(score).
		SetLimit(int64(topK))
	filter := bson.D{{Key: "$text", Value: bson.D{{Key: "$search", Value: query}}}}

	cursor, err := mr.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		docs = append(docs, toDocument(raw))
	}
	return docs, cursor.Err()
}

func toDocument(raw bson.M) Document {
	doc := Document{Body: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case "_id":
			doc.ID = idString(v)
		case "score":
			doc.Score, _ = v.(float64)
		default:
			doc.Body[k] = v
		}
	}
	return doc
}

func idString(v any) string {
	switch id := v.(type) {
	case interface{ Hex() string }:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}
