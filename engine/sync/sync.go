// Package sync reconciles the experience catalog (the system of record) with
// the vector index. A full sync diffs the two id sets, prunes orphans, and
// re-upserts every embeddable record; single-record upserts serve the
// near-real-time path driven by catalog change events.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/semantic"
	"github.com/LumenStay/concierge-mvp/pkg/fn"
)

// embedBatchSize is the max texts per embedding request.
const embedBatchSize = 100

// embedRetryWorkers bounds per-record embedding retries after a failed batch.
const embedRetryWorkers = 4

// catalogRetry bounds re-reads of the catalog enumeration. A transient
// catalog hiccup should not fail a whole reconciliation run.
var catalogRetry = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// Catalog is the slice of the system-of-record client the reconciler needs.
type Catalog interface {
	Get(ctx context.Context, id string) (*catalog.Record, error)
	ListAll(ctx context.Context, filter string) ([]catalog.Record, error)
}

// Index is the slice of the vector store the reconciler needs.
type Index interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	DeleteByRecordIDs(ctx context.Context, ids []string) error
	ListRecordIDs(ctx context.Context) ([]string, error)
}

// Embedder produces embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Report summarises one reconciliation run.
type Report struct {
	Upserted    int  `json:"upserted"`
	Deleted     int  `json:"deleted"`
	Skipped     int  `json:"skipped"`
	Failed      int  `json:"failed"`
	EmptySource bool `json:"empty_source"`
}

// Service is the reconciliation engine.
type Service struct {
	catalog Catalog
	index   Index
	embed   Embedder
	logger  *slog.Logger
}

// New creates a sync Service.
func New(cat Catalog, index Index, embed Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: cat, index: index, embed: embed, logger: logger}
}

// FullSync reconciles the index with the catalog. It is idempotent: running
// it twice with no catalog changes in between leaves the index identical.
// Individual record failures are logged and excluded, never fatal to the run.
//
// A catalog enumeration that comes back empty trips a safety guard: no
// deletions happen, so a transient empty response cannot wipe the index.
func (s *Service) FullSync(ctx context.Context) (Report, error) {
	var report Report

	records, err := fn.Retry(ctx, catalogRetry, func(ctx context.Context) fn.Result[[]catalog.Record] {
		return fn.FromPair(s.catalog.ListAll(ctx, ""))
	}).Unwrap()
	if err != nil {
		return report, fmt.Errorf("sync: list catalog: %w", err)
	}

	indexIDs, err := s.index.ListRecordIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("sync: list index ids: %w", err)
	}

	if len(records) == 0 {
		report.EmptySource = true
		if len(indexIDs) > 0 {
			s.logger.Warn("sync: catalog enumeration returned zero records, refusing to prune index",
				"index_count", len(indexIDs))
		}
		return report, nil
	}

	sorIDs := make(map[string]bool, len(records))
	for _, rec := range records {
		sorIDs[rec.ID] = true
	}

	var orphans []string
	for _, id := range indexIDs {
		if !sorIDs[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := s.index.DeleteByRecordIDs(ctx, orphans); err != nil {
			s.logger.Error("sync: orphan delete failed, continuing with upserts", "err", err)
			report.Failed += len(orphans)
		} else {
			report.Deleted = len(orphans)
			s.logger.Info("sync: pruned orphans", "count", len(orphans))
		}
	}

	embeddable := fn.Filter(records, func(rec catalog.Record) bool {
		if rec.EmbeddingText() == "" {
			s.logger.Warn("sync: record has empty name/description, skipping", "record_id", rec.ID)
			return false
		}
		return true
	})
	report.Skipped = len(records) - len(embeddable)

	var batch []semantic.VectorRecord
	for start := 0; start < len(embeddable); start += embedBatchSize {
		end := min(start+embedBatchSize, len(embeddable))
		chunk := embeddable[start:end]

		vecs, failed := s.embedChunk(ctx, chunk)
		report.Failed += failed
		batch = append(batch, vecs...)
	}

	if err := s.index.Upsert(ctx, batch); err != nil {
		return report, fmt.Errorf("sync: upsert %d records: %w", len(batch), err)
	}
	report.Upserted = len(batch)

	s.logger.Info("sync: full sync complete",
		"upserted", report.Upserted, "deleted", report.Deleted,
		"skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// embedChunk embeds up to embedBatchSize records in one request. If the
// batch call fails, each record is retried individually with bounded
// concurrency so one poisoned text doesn't discard its whole chunk.
func (s *Service) embedChunk(ctx context.Context, chunk []catalog.Record) ([]semantic.VectorRecord, int) {
	texts := fn.Map(chunk, func(rec catalog.Record) string { return rec.EmbeddingText() })

	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err == nil {
		out := make([]semantic.VectorRecord, len(chunk))
		for i, rec := range chunk {
			out[i] = vectorRecord(rec, vecs[i])
		}
		return out, 0
	}
	s.logger.Warn("sync: batch embed failed, retrying records individually",
		"chunk_size", len(chunk), "err", err)

	results := fn.ParMapResult(chunk, embedRetryWorkers, func(rec catalog.Record) fn.Result[semantic.VectorRecord] {
		vec, err := s.embed.Embed(ctx, rec.EmbeddingText())
		if err != nil {
			return fn.Err[semantic.VectorRecord](fmt.Errorf("embed %s: %w", rec.ID, err))
		}
		return fn.Ok(vectorRecord(rec, vec))
	})

	var out []semantic.VectorRecord
	failed := 0
	for _, r := range results {
		v, err := r.Unwrap()
		if err != nil {
			s.logger.Error("sync: record embed failed, excluded from batch", "err", err)
			failed++
			continue
		}
		out = append(out, v)
	}
	return out, failed
}

// UpsertOne syncs a single record, used by the change-event consumer. A
// record deleted upstream is a no-op; orphan cleanup is left to the next
// full sync to avoid racing concurrent edits.
func (s *Service) UpsertOne(ctx context.Context, recordID string) error {
	rec, err := s.catalog.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.logger.Warn("sync: record not found in catalog, skipping (likely deleted)",
				"record_id", recordID)
			return nil
		}
		return fmt.Errorf("sync: fetch %s: %w", recordID, err)
	}

	text := rec.EmbeddingText()
	if text == "" {
		s.logger.Warn("sync: record has empty name/description, nothing to embed",
			"record_id", recordID)
		return nil
	}

	vec, err := s.embed.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("sync: embed %s: %w", recordID, err)
	}

	if err := s.index.Upsert(ctx, []semantic.VectorRecord{vectorRecord(*rec, vec)}); err != nil {
		return fmt.Errorf("sync: upsert %s: %w", recordID, err)
	}
	s.logger.Info("sync: upserted record", "record_id", recordID)
	return nil
}

func vectorRecord(rec catalog.Record, vec []float32) semantic.VectorRecord {
	return semantic.VectorRecord{
		RecordID:  rec.ID,
		Embedding: vec,
		Metadata:  catalog.Payload(rec),
		Document:  rec.EmbeddingText(),
	}
}
