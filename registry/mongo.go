package registry

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists agent records in a Mongo collection with a unique
// index on the DID.
type MongoStore struct {
	agents *mongo.Collection
}

func NewMongoStore(client *mongo.Client, dbName, collection string) *MongoStore {
	return &MongoStore{agents: client.Database(dbName).Collection(collection)}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.agents.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "did", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *MongoStore) PutAgent(ctx context.Context, a Agent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.agents.InsertOne(ctx, a)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *MongoStore) GetAgent(ctx context.Context, did string) (*Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res := s.agents.FindOne(ctx, bson.M{"did": did})
	if res.Err() == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if res.Err() != nil {
		return nil, res.Err()
	}
	var a Agent
	if err := res.Decode(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *MongoStore) DeleteAgent(ctx context.Context, did string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := s.agents.DeleteOne(ctx, bson.M{"did": did})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListAgents(ctx context.Context) ([]Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cur, err := s.agents.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "did", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Agent
	for cur.Next(ctx) {
		var a Agent
		if err := cur.Decode(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, cur.Err()
}

// UpdateAgent does an optimistic read-modify-write: the replace is
// filtered on the record's previous updated_at stamp, so a concurrent
// writer to the same DID loses and the update is retried.
func (s *MongoStore) UpdateAgent(ctx context.Context, did string, fn func(*Agent) error) (*Agent, error) {
	for attempt := 0; attempt < 5; attempt++ {
		a, err := s.GetAgent(ctx, did)
		if err != nil {
			return nil, err
		}
		prevUpdated := a.UpdatedAt
		if err := fn(a); err != nil {
			return nil, err
		}
		a.UpdatedAt = time.Now().UTC()

		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		res, err := s.agents.ReplaceOne(opCtx, bson.M{"did": did, "updated_at": prevUpdated}, a)
		cancel()
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return a, nil
		}
		// Lost the race; reload and retry.
	}
	return nil, ErrConflict
}
