package ports

import (
	"context"
	"errors"
	"time"

	"graphsync/application/statements"
	"graphsync/domain/core/aggregates"
	"graphsync/domain/events"
)

// GraphStore is the remote property graph. The core treats it as an opaque
// executor; adapters decide whether they run the Cypher text or interpret
// the structured operation carried by each statement.
type GraphStore interface {
	// Execute runs one statement and returns its rows
	Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error)

	// ExecuteBatch runs statements in order as one unit of work where the
	// backend supports it
	ExecuteBatch(ctx context.Context, stmts []statements.Statement) error
}

// ErrUnsupportedStatement is returned by stores that only interpret
// structured operations when handed raw statement text.
var ErrUnsupportedStatement = errors.New("statement has no structured form this store can execute")

// SnapshotCache is the single-key soft cache of the last accepted snapshot.
// It is never authoritative.
type SnapshotCache interface {
	// Load returns nil without error when nothing is cached
	Load(ctx context.Context) (*aggregates.Snapshot, error)

	// Save replaces the cached snapshot
	Save(ctx context.Context, snapshot *aggregates.Snapshot) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker serializes writers per key. Acquire blocks until the lock is held
// or ctx is done; the lease expires on its own after ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Tick outcomes reported to Metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeUnchanged = "unchanged"
	OutcomePending   = "pending"
	OutcomeSkipped   = "skipped"
	OutcomeError     = "error"
)

// Metrics receives engine measurements.
type Metrics interface {
	SyncCycle(outcome string, duration time.Duration)
	SnapshotCommitted(entities, relations int, forced bool)
	QueryClassified(kind string)
	FocusChanged(state string)
	RetryExhausted(operation string)
	StoreCall(operation string, duration time.Duration, err error)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) SyncCycle(string, time.Duration)        {}
func (NopMetrics) SnapshotCommitted(int, int, bool)       {}
func (NopMetrics) QueryClassified(string)                 {}
func (NopMetrics) FocusChanged(string)                    {}
func (NopMetrics) RetryExhausted(string)                  {}
func (NopMetrics) StoreCall(string, time.Duration, error) {}
