package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/listings/internal/model"
)

// Event topic constants
const (
	TopicRecordInserted    = "listings.record.inserted"
	TopicRecordDeactivated = "listings.record.deactivated"
	TopicRunCompleted      = "listings.run.completed"

	// TopicAll matches every listings subject.
	TopicAll = "listings.>"
)

// Event types

type RecordInserted struct {
	RunID  string                 `json:"run_id"`
	Record *model.CanonicalRecord `json:"record"`
}

// RecordsDeactivated reports one source sweep; the store returns counts,
// not keys.
type RecordsDeactivated struct {
	RunID      string `json:"run_id"`
	SourceName string `json:"source_name"`
	Count      int    `json:"count"`
}

type RunCompleted struct {
	Summary  *model.Summary `json:"summary"`
	Status   string         `json:"status"`
	Duration time.Duration  `json:"duration_ns"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
