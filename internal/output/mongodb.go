// internal/output/mongodb.go
package output

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/valpere/craigslist-data/internal/utils"
)

// MongoDBWriter replaces documents by schema key, inserting the ones that
// do not exist yet
type MongoDBWriter struct {
	client     *mongo.Client
	collection *mongo.Collection
	schema     Schema
	batchSize  int
	timeout    time.Duration
	logger     utils.Logger
}

// NewMongoDBWriter connects to opts.DSN and ensures a unique index on the
// schema key.
func NewMongoDBWriter(opts Options) (*MongoDBWriter, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("MongoDB database name is required")
	}
	opts.setDefaults()

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(opts.DSN).
		SetAppName(GeneratorName).
		SetServerSelectionTimeout(opts.Timeout).
		SetMaxPoolSize(10)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	w := &MongoDBWriter{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		schema:     opts.Schema,
		batchSize:  opts.BatchSize,
		timeout:    opts.Timeout,
		logger: utils.NewComponentLogger("output").WithFields(map[string]interface{}{
			"db":         "mongodb",
			"collection": opts.Collection,
		}),
	}

	if _, err := w.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: opts.Schema.Key, Value: 1}},
		Options: options.Index().SetUnique(true).SetName(opts.Schema.Key + "_unique"),
	}); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create index on %s: %w", opts.Schema.Key, err)
	}

	return w, nil
}

// Write upserts data in batches.
func (w *MongoDBWriter) Write(data []map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	for i := 0; i < len(data); i += w.batchSize {
		end := i + w.batchSize
		if end > len(data) {
			end = len(data)
		}

		models := make([]mongo.WriteModel, 0, end-i)
		for j, record := range data[i:end] {
			doc, err := mongoDocument(w.schema, record)
			if err != nil {
				return fmt.Errorf("record %d: %w", i+j, err)
			}
			filter := bson.D{{Key: w.schema.Key, Value: record[w.schema.Key]}}
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(filter).
				SetReplacement(doc).
				SetUpsert(true))
		}

		result, err := w.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
		if err != nil {
			return fmt.Errorf("failed to upsert records %d-%d: %w", i, end-1, err)
		}
		w.logger.WithFields(map[string]interface{}{
			"upserted": result.UpsertedCount,
			"modified": result.ModifiedCount,
			"matched":  result.MatchedCount,
		}).Debug("batch written")
	}
	return nil
}

// mongoDocument orders the record by schema and stores timestamps as
// BSON dates and lists as arrays.
func mongoDocument(schema Schema, record map[string]interface{}) (bson.D, error) {
	doc := make(bson.D, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		v := record[c.Name]
		switch {
		case v == nil:
		case c.Kind == KindList:
			list, ok := listStrings(v)
			if !ok {
				return nil, fmt.Errorf("column %s: expected a list, got %T", c.Name, v)
			}
			v = list
		case c.Kind == KindTime:
			t, err := columnValue(c, v, true)
			if err != nil {
				return nil, err
			}
			v = t
		}
		if c.Name == schema.Key && v == nil {
			return nil, fmt.Errorf("record has no %s", schema.Key)
		}
		doc = append(doc, bson.E{Key: c.Name, Value: v})
	}
	return doc, nil
}

// Ping checks the server connection.
func (w *MongoDBWriter) Ping(ctx context.Context) error {
	return w.client.Ping(ctx, nil)
}

// Close disconnects from the server
func (w *MongoDBWriter) Close() error {
	if w.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	err := w.client.Disconnect(ctx)
	w.client = nil
	return err
}
