package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"conversepdf/internal/app"
	"conversepdf/internal/config"
	"conversepdf/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  collection  - Create or verify the vector collection")
		fmt.Println("  registry    - Create the ingestion registry indexes")
		fmt.Println("  all         - Run both")
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch command {
	case "collection":
		err = ensureCollection(ctx, cfg)
	case "registry":
		err = ensureRegistry(ctx, cfg)
	case "all":
		if err = ensureCollection(ctx, cfg); err == nil {
			err = ensureRegistry(ctx, cfg)
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	fmt.Println("Migration completed successfully!")
}

func ensureCollection(ctx context.Context, cfg *config.Config) error {
	components, err := app.Build(ctx, cfg, nil, logger.Logger)
	if err != nil {
		return err
	}
	defer components.Close(ctx)

	if err := components.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("collection %s: %w", cfg.CollectionName, err)
	}
	fmt.Printf("Collection %s ready (%d dimensions, %s)\n", cfg.CollectionName, cfg.VectorDimensions, cfg.VectorStore)
	return nil
}

func ensureRegistry(ctx context.Context, cfg *config.Config) error {
	client, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	if err := config.CreateIndexes(ctx, client, cfg.DBName); err != nil {
		return err
	}
	fmt.Printf("Registry indexes ready in %s.%s\n", cfg.DBName, config.IngestionsCollection)
	return nil
}
