// Package rag implements the retrieval-augmented generation pipeline: embed
// the question, find the nearest catalog records in the vector index,
// re-fetch the authoritative fields, and ground the completion in them.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/LumenStay/concierge-mvp/engine/catalog"
	"github.com/LumenStay/concierge-mvp/engine/semantic"
)

// Sentinel context strings. These flow into the prompt as-is; the model is
// instructed to say it has no information when the context is empty.
const (
	NoContextFound     = "No specific context found in the knowledge base."
	ContextUnavailable = "Context details could not be retrieved."
)

const contextHeader = "Context from knowledge base:\n"

// Embedder maps text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher abstracts vector similarity search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.Hit, error)
}

// RecordGetter fetches authoritative records from the system of record.
type RecordGetter interface {
	Get(ctx context.Context, id string) (*catalog.Record, error)
}

// Retrieval is the outcome of one retrieval pass: the context block for the
// prompt and the records that back it, in match order.
type Retrieval struct {
	Context string
	Records []catalog.Record
}

// Retriever orchestrates embed → search → authoritative fetch → format.
type Retriever struct {
	embed   Embedder
	search  Searcher
	catalog RecordGetter
	topK    int
	logger  *slog.Logger
}

// NewRetriever creates a Retriever. topK <= 0 defaults to 3.
func NewRetriever(embed Embedder, search Searcher, cat RecordGetter, topK int, logger *slog.Logger) *Retriever {
	if topK <= 0 {
		topK = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embed: embed, search: search, catalog: cat, topK: topK, logger: logger}
}

// Retrieve runs the retrieval pipeline for a user query. Index payloads are
// never used for the context; every matched id is re-fetched from the
// catalog so the prompt reflects the system of record, not a possibly stale
// index. Individual catalog misses are skipped; only embedding or search
// failures return an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) (Retrieval, error) {
	vec, err := r.embed.Embed(ctx, query)
	if err != nil {
		return Retrieval{}, fmt.Errorf("rag: embed query: %w", err)
	}

	hits, err := r.search.Search(ctx, vec, r.topK)
	if err != nil {
		return Retrieval{}, fmt.Errorf("rag: vector search: %w", err)
	}
	if len(hits) == 0 {
		return Retrieval{Context: NoContextFound}, nil
	}

	records := make([]catalog.Record, 0, len(hits))
	for _, hit := range hits {
		rec, err := r.catalog.Get(ctx, hit.RecordID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				// Deleted upstream but not yet pruned from the index.
				r.logger.Warn("rag: matched record missing from catalog, skipping",
					"record_id", hit.RecordID)
			} else {
				r.logger.Error("rag: catalog fetch failed, skipping",
					"record_id", hit.RecordID, "err", err)
			}
			continue
		}
		records = append(records, *rec)
	}
	if len(records) == 0 {
		return Retrieval{Context: ContextUnavailable}, nil
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for i, rec := range records {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[Result %d (ID: %s): Name: %s, Description: %s, Price: %s, Type: %s]",
			i+1, rec.ID, rec.Name(), rec.Description(), rec.Price(), rec.Type())
	}
	return Retrieval{Context: b.String(), Records: records}, nil
}
