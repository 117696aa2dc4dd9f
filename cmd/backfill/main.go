// Command backfill runs one full catalog-to-index reconciliation and exits.
// Intended for first-time index population and operational repair.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/semantic"
	enginesync "github.com/LumenStay/concierge-mvp/engine/sync"
	"github.com/LumenStay/concierge-mvp/pkg/openai"
)

// embedDims matches text-embedding-3-small.
const embedDims = 1536

func main() {
	godotenv.Load()

	var (
		qdrantAddr = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection = flag.String("collection", envOr("QDRANT_COLLECTION", "experiences"), "Qdrant collection name")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()

	vectors, err := semantic.New(*qdrantAddr, *collection)
	if err != nil {
		logger.Error("qdrant connect failed", "err", err)
		os.Exit(1)
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx, embedDims); err != nil {
		logger.Error("qdrant ensure collection failed", "err", err)
		os.Exit(1)
	}

	cat := catalog.NewClient(
		envOr("AIRTABLE_BASE_URL", "https://api.airtable.com/v0"),
		os.Getenv("AIRTABLE_TOKEN"),
		os.Getenv("AIRTABLE_BASE_ID"),
		envOr("AIRTABLE_TABLE", "Experiences"),
	)
	ai := openai.New(openai.Config{
		BaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		APIKey:  os.Getenv("OPENAI_API_KEY"),
	})

	svc := enginesync.New(cat, vectors, ai, logger)

	report, err := svc.FullSync(ctx)
	if err != nil {
		logger.Error("backfill failed", "err", err)
		os.Exit(1)
	}
	if report.EmptySource {
		logger.Warn("catalog enumeration was empty, nothing backfilled")
		os.Exit(1)
	}

	logger.Info("backfill complete",
		"upserted", report.Upserted, "deleted", report.Deleted,
		"skipped", report.Skipped, "failed", report.Failed)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
