package mongo

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/warriorguo/taskflow/store"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	_ store.Store = &mongoStore{}
)

const (
	DefaultDatabase   = "taskflow"
	DefaultCollection = "taskflow_store"

	connectTimeout = 10 * time.Second
)

// Config holds MongoDB connection configuration
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		URI:        "mongodb://localhost:27017",
		Database:   DefaultDatabase,
		Collection: DefaultCollection,
	}
}

// Validate validates the configuration, empty Database and Collection fall back to defaults
func (c *Config) Validate() error {
	if c.URI == "" {
		return errors.New("uri cannot be empty")
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	return nil
}

type document struct {
	Prefix    string    `bson:"prefix"`
	Key       string    `bson:"key"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// mongoStore keeps one document per prefix + key, unique on both.
type mongoStore struct {
	client     *mongodriver.Client
	collection *mongodriver.Collection
}

// NewMongoStore connects, pings and makes sure the unique index exists.
func NewMongoStore(ctx context.Context, config *Config) (store.Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, errors.Annotatef(err, "failed to connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Annotatef(err, "failed to ping mongo")
	}

	s := &mongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}
	if err := s.initIndex(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, errors.Annotatef(err, "failed to initialize index")
	}
	return s, nil
}

func (m *mongoStore) initIndex(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "prefix", Value: 1}, {Key: "key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Trace(err)
}

func filter(prefix, key string) bson.D {
	return bson.D{{Key: "prefix", Value: prefix}, {Key: "key", Value: key}}
}

func (m *mongoStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	doc := &document{}
	err := m.collection.FindOne(ctx, filter(prefix, key)).Decode(doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	return doc.Value, nil
}

func (m *mongoStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	update := bson.D{{Key: "$set", Value: document{
		Prefix:    prefix,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}}}
	_, err := m.collection.UpdateOne(ctx, filter(prefix, key), update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (m *mongoStore) Remove(ctx context.Context, prefix, key string) error {
	if _, err := m.collection.DeleteOne(ctx, filter(prefix, key)); err != nil {
		return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
	}
	return nil
}

func (m *mongoStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	opts := options.Find().
		SetSort(bson.D{{Key: "key", Value: 1}}).
		SetProjection(bson.D{{Key: "key", Value: 1}})

	cursor, err := m.collection.Find(ctx, bson.D{{Key: "prefix", Value: prefix}}, opts)
	if err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		doc := &document{}
		if err := cursor.Decode(doc); err != nil {
			return errors.Annotatef(err, "failed to decode key")
		}
		if !iterator(doc.Key) {
			return nil
		}
	}
	return errors.Trace(cursor.Err())
}

// Close disconnects the client
func (m *mongoStore) Close() error {
	return errors.Trace(m.client.Disconnect(context.Background()))
}
