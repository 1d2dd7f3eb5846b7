// Package memory provides process-local implementations of the store ports,
// used for development, the CLI and tests.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"graphsync/application/statements"
	"graphsync/infrastructure/persistence/graphmodel"
)

// RawHandler executes statements that carry no structured operation.
type RawHandler func(ctx context.Context, g *graphmodel.Graph, stmt statements.Statement) ([]statements.Row, error)

// Store is an in-memory GraphStore. Batches are atomic: a failing statement
// leaves the graph untouched.
type Store struct {
	mu     sync.Mutex
	graph  *graphmodel.Graph
	raw    RawHandler
	logger *zap.Logger
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{graph: graphmodel.New(), logger: logger}
}

// SetRawHandler installs a handler for raw statement text. Without one, raw
// statements fail with ports.ErrUnsupportedStatement.
func (s *Store) SetRawHandler(h RawHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = h
}

// Execute runs one statement.
func (s *Store) Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, s.graph, stmt)
}

// ExecuteBatch runs statements against a copy and swaps it in on success.
func (s *Store) ExecuteBatch(ctx context.Context, stmts []statements.Statement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.graph.Clone()
	for i, st := range stmts {
		if _, err := s.apply(ctx, work, st); err != nil {
			s.logger.Debug("Batch rolled back",
				zap.Int("statement", i),
				zap.String("op", st.Op.Kind.String()),
				zap.Error(err),
			)
			return err
		}
	}
	s.graph = work
	return nil
}

func (s *Store) apply(ctx context.Context, g *graphmodel.Graph, stmt statements.Statement) ([]statements.Row, error) {
	if stmt.Op.Kind == statements.OpRaw && s.raw != nil {
		return s.raw(ctx, g, stmt)
	}
	return g.Apply(stmt)
}

// Seed replaces the stored graph.
func (s *Store) Seed(nodes []graphmodel.Node, edges []graphmodel.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph = graphmodel.FromItems(nodes, edges)
}

// Graph returns a copy of the stored graph.
func (s *Store) Graph() *graphmodel.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Clone()
}
