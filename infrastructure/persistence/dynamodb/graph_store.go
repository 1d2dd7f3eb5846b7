package dynamodb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/statements"
	"graphsync/domain/core/entities"
	"graphsync/domain/core/valueobjects"
	"graphsync/infrastructure/persistence/graphmodel"
)

const (
	entityPrefix   = "ENTITY#"
	relationPrefix = "REL#"

	// DynamoDB limits per request.
	maxTransactItems = 100
	maxBatchItems    = 25
	maxBatchRetries  = 5
)

// API is the part of the DynamoDB client the store and lock use.
type API interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// EntityItem is one stored entity.
type EntityItem struct {
	PK         string `dynamodbav:"PK"` // GRAPH#<graph_id>
	SK         string `dynamodbav:"SK"` // ENTITY#<uuid>
	EntityType string `dynamodbav:"EntityType"`
	Name       string `dynamodbav:"Name"`
	Role       string `dynamodbav:"Role,omitempty"`
	Location   string `dynamodbav:"Location,omitempty"`
	Website    string `dynamodbav:"Website,omitempty"`
	CreatedAt  *int64 `dynamodbav:"CreatedAt,omitempty"` // epoch ms
}

// RelationItem is one stored directed relation.
type RelationItem struct {
	PK         string `dynamodbav:"PK"` // GRAPH#<graph_id>
	SK         string `dynamodbav:"SK"` // REL#<uuid>
	EntityType string `dynamodbav:"EntityType"`
	SourceID   string `dynamodbav:"SourceID"`
	TargetID   string `dynamodbav:"TargetID"`
	Note       string `dynamodbav:"Note,omitempty"`
	CreatedAt  *int64 `dynamodbav:"CreatedAt,omitempty"`
}

// GraphStore keeps one graph in a single-table partition and interprets
// structured statements against it. Raw Cypher is not supported.
type GraphStore struct {
	client    API
	tableName string
	graphID   string
	logger    *zap.Logger

	// mu serializes read-modify-write cycles within this process; other
	// writers are serialized by DistributedLock.
	mu sync.Mutex
}

// NewGraphStore creates a store for graphID in tableName.
func NewGraphStore(client API, tableName, graphID string, logger *zap.Logger) *GraphStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphStore{client: client, tableName: tableName, graphID: graphID, logger: logger}
}

func (s *GraphStore) partition() string { return "GRAPH#" + s.graphID }

// Execute runs one statement. Writes are persisted before returning.
func (s *GraphStore) Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	if stmt.Op.Kind == statements.OpRaw {
		return nil, ports.ErrUnsupportedStatement
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if !stmt.Op.Kind.IsWrite() {
		return before.Apply(stmt)
	}

	work := before.Clone()
	rows, err := work.Apply(stmt)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, work.Changes(before)); err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecuteBatch applies every statement to one loaded copy of the graph and
// writes the combined changes.
func (s *GraphStore) ExecuteBatch(ctx context.Context, stmts []statements.Statement) error {
	for _, st := range stmts {
		if st.Op.Kind == statements.OpRaw {
			return ports.ErrUnsupportedStatement
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.load(ctx)
	if err != nil {
		return err
	}
	work := before.Clone()
	if err := work.ApplyAll(stmts); err != nil {
		return err
	}
	return s.persist(ctx, work.Changes(before))
}

// load reads the whole partition.
func (s *GraphStore) load(ctx context.Context) (*graphmodel.Graph, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(s.partition()))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	var nodes []graphmodel.Node
	var edges []graphmodel.Edge
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, classify("query", err)
		}
		for _, item := range out.Items {
			sk, _ := item["SK"].(*types.AttributeValueMemberS)
			if sk == nil {
				continue
			}
			switch {
			case strings.HasPrefix(sk.Value, entityPrefix):
				var it EntityItem
				if err := attributevalue.UnmarshalMap(item, &it); err != nil {
					return nil, fmt.Errorf("failed to unmarshal entity %s: %w", sk.Value, err)
				}
				nodes = append(nodes, it.toNode())
			case strings.HasPrefix(sk.Value, relationPrefix):
				var it RelationItem
				if err := attributevalue.UnmarshalMap(item, &it); err != nil {
					return nil, fmt.Errorf("failed to unmarshal relation %s: %w", sk.Value, err)
				}
				edges = append(edges, it.toEdge())
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return graphmodel.FromItems(nodes, edges), nil
}

// persist writes a change set. Up to 100 writes go in one transaction;
// larger sets fall back to batch writes, which are not atomic.
func (s *GraphStore) persist(ctx context.Context, cs graphmodel.ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}
	puts, deletes, err := s.writeRequests(cs)
	if err != nil {
		return err
	}

	start := time.Now()
	if cs.Size() <= maxTransactItems {
		items := make([]types.TransactWriteItem, 0, cs.Size())
		for _, p := range puts {
			items = append(items, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(s.tableName), Item: p}})
		}
		for _, k := range deletes {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{TableName: aws.String(s.tableName), Key: k}})
		}
		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return classify("transact_write", err)
		}
	} else {
		if err := s.batchWrite(ctx, puts, deletes); err != nil {
			return err
		}
		s.logger.Warn("Large change set written without a transaction", zap.Int("items", cs.Size()))
	}

	s.logger.Debug("Graph changes persisted",
		zap.Int("puts", len(puts)),
		zap.Int("deletes", len(deletes)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *GraphStore) writeRequests(cs graphmodel.ChangeSet) ([]map[string]types.AttributeValue, []map[string]types.AttributeValue, error) {
	var puts, deletes []map[string]types.AttributeValue
	for _, n := range cs.PutNodes {
		item, err := attributevalue.MarshalMap(s.entityItem(n))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal entity: %w", err)
		}
		puts = append(puts, item)
	}
	for _, e := range cs.PutEdges {
		item, err := attributevalue.MarshalMap(s.relationItem(e))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal relation: %w", err)
		}
		puts = append(puts, item)
	}
	for _, id := range cs.DeleteEdges {
		deletes = append(deletes, s.key(relationPrefix+id))
	}
	for _, id := range cs.DeleteNodes {
		deletes = append(deletes, s.key(entityPrefix+id))
	}
	return puts, deletes, nil
}

func (s *GraphStore) batchWrite(ctx context.Context, puts, deletes []map[string]types.AttributeValue) error {
	reqs := make([]types.WriteRequest, 0, len(puts)+len(deletes))
	for _, p := range puts {
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: p}})
	}
	for _, k := range deletes {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: k}})
	}

	for i := 0; i < len(reqs); i += maxBatchItems {
		end := i + maxBatchItems
		if end > len(reqs) {
			end = len(reqs)
		}
		pending := map[string][]types.WriteRequest{s.tableName: reqs[i:end]}
		for attempt := 0; len(pending[s.tableName]) > 0; attempt++ {
			if attempt == maxBatchRetries {
				return classify("batch_write", fmt.Errorf("%d unprocessed items after %d attempts", len(pending[s.tableName]), attempt))
			}
			out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return classify("batch_write", err)
			}
			pending = out.UnprocessedItems
			if len(pending[s.tableName]) > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
				}
			}
		}
	}
	return nil
}

func (s *GraphStore) key(sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.partition()},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *GraphStore) entityItem(n graphmodel.Node) EntityItem {
	return EntityItem{
		PK:         s.partition(),
		SK:         entityPrefix + n.ID,
		EntityType: "ENTITY",
		Name:       n.Name,
		Role:       n.Attributes.Role,
		Location:   n.Attributes.Location,
		Website:    n.Attributes.Contact,
		CreatedAt:  millisPtr(n.CreatedAt),
	}
}

func (s *GraphStore) relationItem(e graphmodel.Edge) RelationItem {
	return RelationItem{
		PK:         s.partition(),
		SK:         relationPrefix + e.ID,
		EntityType: "RELATION",
		SourceID:   e.SourceID,
		TargetID:   e.TargetID,
		Note:       e.Note,
		CreatedAt:  millisPtr(e.CreatedAt),
	}
}

func (it EntityItem) toNode() graphmodel.Node {
	return graphmodel.Node{
		ID:   strings.TrimPrefix(it.SK, entityPrefix),
		Name: it.Name,
		Attributes: entities.Attributes{
			Role:     it.Role,
			Location: it.Location,
			Contact:  it.Website,
		},
		CreatedAt: fromPtr(it.CreatedAt),
	}
}

func (it RelationItem) toEdge() graphmodel.Edge {
	return graphmodel.Edge{
		ID:        strings.TrimPrefix(it.SK, relationPrefix),
		SourceID:  it.SourceID,
		TargetID:  it.TargetID,
		Note:      it.Note,
		CreatedAt: fromPtr(it.CreatedAt),
	}
}

func millisPtr(ts valueobjects.Timestamp) *int64 {
	if !ts.Valid() {
		return nil
	}
	ms := ts.Millis()
	return &ms
}

func fromPtr(ms *int64) valueobjects.Timestamp {
	if ms == nil {
		return valueobjects.AbsentTimestamp()
	}
	return valueobjects.FromMillis(*ms)
}
