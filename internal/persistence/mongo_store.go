package persistence

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/fabula/pkg/api"
)

// MongoCheckpointStore is a CheckpointStore backed by MongoDB. One
// document per (run, phase, artifact) triple; Store is a ReplaceOne
// upsert so rewrites after resume stay idempotent.
type MongoCheckpointStore struct {
	coll *mongo.Collection
}

// Ensure it implements CheckpointStore.
var _ api.CheckpointStore = (*MongoCheckpointStore)(nil)

// NewMongoCheckpointStore creates a Mongo-backed checkpoint store.
// dbName defaults to "fabula" if empty, collName defaults to
// "checkpoints".
func NewMongoCheckpointStore(client *mongo.Client, dbName, collName string) *MongoCheckpointStore {
	if dbName == "" {
		dbName = "fabula"
	}
	if collName == "" {
		collName = "checkpoints"
	}

	return &MongoCheckpointStore{
		coll: client.Database(dbName).Collection(collName),
	}
}

type mongoCheckpointDoc struct {
	RunID        string    `bson:"run_id"`
	Phase        string    `bson:"phase"`
	ArtifactType string    `bson:"artifact_type"`
	Content      []byte    `bson:"content,omitempty"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (s *MongoCheckpointStore) Store(ctx context.Context, runID string, phase api.Phase, artifactType string, content []byte) error {
	doc := mongoCheckpointDoc{
		RunID:        runID,
		Phase:        string(phase),
		ArtifactType: artifactType,
		Content:      content,
		UpdatedAt:    time.Now(),
	}

	filter := bson.M{
		"run_id":        runID,
		"phase":         string(phase),
		"artifact_type": artifactType,
	}

	_, err := s.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoCheckpointStore) Get(ctx context.Context, runID string) (map[api.Phase]map[string][]byte, error) {
	cur, err := s.coll.Find(ctx, bson.M{"run_id": runID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[api.Phase]map[string][]byte)
	for cur.Next(ctx) {
		var doc mongoCheckpointDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		phase := api.Phase(doc.Phase)
		if out[phase] == nil {
			out[phase] = make(map[string][]byte)
		}
		out[phase][doc.ArtifactType] = doc.Content
	}

	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoCheckpointStore) ListRuns(ctx context.Context) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "run_id", bson.M{})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
