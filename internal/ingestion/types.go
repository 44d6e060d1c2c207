// Package ingestion defines the request/response types and Kafka event schemas
// used by the document ingestion pipeline.
package ingestion

import "time"

// Event operations.
const (
	OpAdd        = "add"
	OpDelete     = "delete"
	OpBoosts     = "boosts"
	OpCategories = "categories"
	OpTimestamp  = "timestamp"
)

// IngestEvent is the Kafka message payload that drives the indexer. Fields
// is read for adds, Boosts for adds and boost updates, Categories for
// category updates and Timestamp for timestamp updates.
type IngestEvent struct {
	Op         string            `json:"op"`
	DocumentID string            `json:"document_id"`
	Fields     map[string]string `json:"fields,omitempty"`
	Boosts     []float64         `json:"boosts,omitempty"`
	Categories map[string]string `json:"categories,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// DocumentRequest is the JSON body accepted by the document endpoints.
type DocumentRequest struct {
	ID         string            `json:"id"`
	Fields     map[string]string `json:"fields"`
	Boosts     []float64         `json:"boosts,omitempty"`
	Categories map[string]string `json:"categories,omitempty"`
}

// IngestResponse is returned to the caller after an event is accepted.
type IngestResponse struct {
	DocumentID string `json:"document_id"`
	Op         string `json:"op"`
	Status     string `json:"status"`
}

// DumpEvent is published after a dump has been installed and checkpointed.
type DumpEvent struct {
	DumpID     string    `json:"dump_id"`
	Timestamp  int64     `json:"timestamp"`
	Segment    string    `json:"segment,omitempty"`
	Docs       int       `json:"docs"`
	Deletes    int       `json:"deletes"`
	DurationMS int64     `json:"duration_ms"`
	FinishedAt time.Time `json:"finished_at"`
}
