package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IngestionsCollection holds one status record per source id.
const IngestionsCollection = "ingestions"

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// CreateIndexes creates the registry indexes. Safe to call repeatedly.
func CreateIndexes(ctx context.Context, client *mongo.Client, dbName string) error {
	ingestions := client.Database(dbName).Collection(IngestionsCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "task_id", Value: 1}}},
	}
	if _, err := ingestions.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create ingestion indexes: %w", err)
	}
	return nil
}
