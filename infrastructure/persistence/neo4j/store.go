// Package neo4j implements the graph store on a Neo4j database. Statements
// are sent as Cypher text; the structured op is only used to pick the
// session access mode.
package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"graphsync/application/statements"
	apperrors "graphsync/pkg/errors"
)

// Config holds the connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store runs statements through the official Neo4j driver.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewStore opens a driver and verifies that the server is reachable.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, apperrors.NewStoreUnavailableError(err)
	}
	logger.Info("Connected to Neo4j", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return NewStoreWithDriver(driver, cfg.Database, logger), nil
}

// NewStoreWithDriver wraps an existing driver.
func NewStoreWithDriver(driver neo4j.DriverWithContext, database string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{driver: driver, database: database, logger: logger}
}

// Execute runs one statement in its own session.
func (s *Store) Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	mode := neo4j.AccessModeRead
	if stmt.Op.Kind.IsWrite() {
		mode = neo4j.AccessModeWrite
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, stmt.Text, stmt.Params)
	if err != nil {
		return nil, s.classify(stmt, err)
	}
	var rows []statements.Row
	for result.Next(ctx) {
		rows = append(rows, toRow(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, s.classify(stmt, err)
	}
	return rows, nil
}

// ExecuteBatch runs every statement in one managed write transaction.
func (s *Store) ExecuteBatch(ctx context.Context, stmts []statements.Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
	defer session.Close(ctx)

	var failed statements.Statement
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range stmts {
			result, err := tx.Run(ctx, st.Text, st.Params)
			if err != nil {
				failed = st
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				failed = st
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return s.classify(failed, err)
	}
	s.logger.Debug("Batch committed", zap.Int("statements", len(stmts)))
	return nil
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping checks connectivity within timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.driver.VerifyConnectivity(ctx)
}

func (s *Store) classify(stmt statements.Statement, err error) error {
	if neo4j.IsConnectivityError(err) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("Neo4j unreachable", zap.String("op", stmt.Op.Kind.String()), zap.Error(err))
		return apperrors.NewStoreUnavailableError(err)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && strings.HasPrefix(neoErr.Code, "Neo.ClientError.Statement.") {
		return apperrors.NewInvalidQueryError(neoErr.Msg).WithCause(err)
	}
	return apperrors.NewDatabaseError(stmt.Op.Kind.String(), err)
}

func toRow(record *neo4j.Record) statements.Row {
	values := make([]any, len(record.Values))
	for i, v := range record.Values {
		values[i] = convert(v)
	}
	return statements.Row{Keys: record.Keys, Values: values}
}

// convert maps driver values onto the types the row parser understands.
func convert(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		return statements.NodeValue{ID: t.ElementId, Labels: t.Labels, Props: convertMap(t.Props)}
	case neo4j.Relationship:
		return convertMap(t.Props)
	case map[string]any:
		return convertMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = convert(e)
		}
		return out
	default:
		return v
	}
}

func convertMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convert(v)
	}
	return out
}
