package semantic

// Hit is a single vector search match. Only the catalog record id and the
// similarity score are surfaced; index payloads are never treated as ground
// truth, callers re-fetch the authoritative record from the catalog.
type Hit struct {
	RecordID string  `json:"record_id"`
	Score    float32 `json:"score"`
}

// VectorRecord is one entry to store in the index. RecordID is the catalog
// record id; Document is the exact text that was embedded, kept alongside
// the metadata for inspection.
type VectorRecord struct {
	RecordID  string
	Embedding []float32
	Metadata  map[string]any
	Document  string
}
