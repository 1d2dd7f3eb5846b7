package events

import (
	"time"
)

// Source identifies events emitted by this service on a shared bus.
const Source = "graphsync.engine"

// GraphAggregateID is the aggregate id used for graph-wide events.
const GraphAggregateID = "graph"

// DomainEvent is the base interface for all domain events
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

func base(aggregateID, eventType string, at time.Time) BaseEvent {
	return BaseEvent{AggregateID: aggregateID, EventType: eventType, Timestamp: at, Version: 1}
}

// SnapshotCommitted is raised when the scheduler accepts a new live snapshot
type SnapshotCommitted struct {
	BaseEvent
	Fingerprint   string   `json:"fingerprint"`
	EntityCount   int      `json:"entity_count"`
	RelationCount int      `json:"relation_count"`
	ChangedIDs    []string `json:"changed_ids"`
	First         bool     `json:"first"`
	Forced        bool     `json:"forced"`
}

func NewSnapshotCommitted(fingerprint string, entityCount, relationCount int, changed []string, first, forced bool, at time.Time) SnapshotCommitted {
	return SnapshotCommitted{
		BaseEvent:     base(GraphAggregateID, "snapshot.committed", at),
		Fingerprint:   fingerprint,
		EntityCount:   entityCount,
		RelationCount: relationCount,
		ChangedIDs:    changed,
		First:         first,
		Forced:        forced,
	}
}

// EntitiesMerged is raised when duplicates of one canonical name collapse
// into a single entity
type EntitiesMerged struct {
	BaseEvent
	Name        string `json:"name"`
	MergedCount int    `json:"merged_count"`
}

func NewEntitiesMerged(name string, merged int, at time.Time) EntitiesMerged {
	return EntitiesMerged{
		BaseEvent:   base(name, "entity.merged", at),
		Name:        name,
		MergedCount: merged,
	}
}

// EntityRenamed is raised after a rename; Collision is set when the old
// entity was folded into an existing one
type EntityRenamed struct {
	BaseEvent
	From      string `json:"from"`
	To        string `json:"to"`
	Collision bool   `json:"collision"`
}

func NewEntityRenamed(from, to string, collision bool, at time.Time) EntityRenamed {
	return EntityRenamed{
		BaseEvent: base(to, "entity.renamed", at),
		From:      from,
		To:        to,
		Collision: collision,
	}
}

// FocusChanged is raised when a trigger wins arbitration
type FocusChanged struct {
	BaseEvent
	State    string   `json:"state"`
	FocusIDs []string `json:"focus_ids"`
	Visible  int      `json:"visible"`
}

func NewFocusChanged(state string, focus []string, visible int, at time.Time) FocusChanged {
	return FocusChanged{
		BaseEvent: base(GraphAggregateID, "focus.changed", at),
		State:     state,
		FocusIDs:  focus,
		Visible:   visible,
	}
}

// MutationRefused is raised when a destructive statement is rejected
type MutationRefused struct {
	BaseEvent
	Keyword string `json:"keyword"`
}

func NewMutationRefused(keyword string, at time.Time) MutationRefused {
	return MutationRefused{
		BaseEvent: base(GraphAggregateID, "mutation.refused", at),
		Keyword:   keyword,
	}
}

// CreationAbandoned is raised when a created entity never showed up in the
// live snapshot within the retry budget
type CreationAbandoned struct {
	BaseEvent
	Name     string `json:"name"`
	Attempts int    `json:"attempts"`
}

func NewCreationAbandoned(name string, attempts int, at time.Time) CreationAbandoned {
	return CreationAbandoned{
		BaseEvent: base(name, "entity.creation_abandoned", at),
		Name:      name,
		Attempts:  attempts,
	}
}
