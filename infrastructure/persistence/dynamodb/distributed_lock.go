package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/pkg/clock"
)

// DistributedLock provides distributed locking using DynamoDB conditional writes
type DistributedLock struct {
	client    API
	tableName string
	owner     string
	clock     clock.Clock
	logger    *zap.Logger
}

// LockRecord represents a lock record in DynamoDB
type LockRecord struct {
	PK         string `dynamodbav:"PK"`         // LOCK#<resource_name>
	SK         string `dynamodbav:"SK"`         // LOCK
	LockID     string `dynamodbav:"LockID"`     // Unique lock identifier
	Owner      string `dynamodbav:"Owner"`      // Process holding the lock
	AcquiredAt string `dynamodbav:"AcquiredAt"` // RFC3339 timestamp
	ExpiresAt  int64  `dynamodbav:"ExpiresAt"`  // epoch ms
	TTL        int64  `dynamodbav:"TTL"`        // Unix timestamp for DynamoDB TTL
}

// NewDistributedLock creates a lock client. Every lease it hands out is
// owned by a fresh process id.
func NewDistributedLock(client API, tableName string, clk clock.Clock, logger *zap.Logger) *DistributedLock {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		owner:     uuid.NewString(),
		clock:     clk,
		logger:    logger,
	}
}

// Acquire polls until the lock is taken or ctx is done. The wait between
// attempts starts at 100ms and grows to 1s.
func (dl *DistributedLock) Acquire(ctx context.Context, key string, ttl time.Duration) (ports.Lease, error) {
	retryInterval := 100 * time.Millisecond
	for {
		lease, err := dl.tryAcquire(ctx, key, ttl)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
			if retryInterval < time.Second {
				retryInterval = time.Duration(float64(retryInterval) * 1.5)
			}
		}
	}
}

// tryAcquire returns a nil lease without error while someone else holds
// the lock.
func (dl *DistributedLock) tryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	now := dl.clock.Now()
	expiresAt := now.Add(ttl)
	record := LockRecord{
		PK:         "LOCK#" + key,
		SK:         "LOCK",
		LockID:     uuid.NewString(),
		Owner:      dl.owner,
		AcquiredAt: now.UTC().Format(time.RFC3339),
		ExpiresAt:  expiresAt.UnixMilli(),
		TTL:        expiresAt.Add(time.Hour).Unix(),
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	cond := expression.Name("PK").AttributeNotExists().
		Or(expression.Name("ExpiresAt").LessThan(expression.Value(now.UnixMilli())))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build lock condition: %w", err)
	}

	_, err = dl.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(dl.tableName),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			dl.logger.Debug("Lock already held", zap.String("resource", key))
			return nil, nil
		}
		return nil, classify("acquire_lock", err)
	}

	dl.logger.Debug("Lock acquired",
		zap.String("resource", key),
		zap.String("lockID", record.LockID),
		zap.Duration("duration", ttl),
	)
	return &Lease{lock: dl, key: key, lockID: record.LockID, expiresAt: expiresAt}, nil
}

// Lease is a held DynamoDB lock.
type Lease struct {
	lock      *DistributedLock
	key       string
	lockID    string
	expiresAt time.Time
}

// Release deletes the lock record if this lease still owns it. A lease that
// expired and was taken over by another owner is left alone.
func (l *Lease) Release(ctx context.Context) error {
	dl := l.lock
	cond := expression.Name("LockID").Equal(expression.Value(l.lockID)).
		And(expression.Name("Owner").Equal(expression.Value(dl.owner)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build release condition: %w", err)
	}

	_, err = dl.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(dl.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "LOCK#" + l.key},
			"SK": &types.AttributeValueMemberS{Value: "LOCK"},
		},
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			dl.logger.Warn("Lock was taken over before release",
				zap.String("resource", l.key),
				zap.String("lockID", l.lockID),
			)
			return nil
		}
		return classify("release_lock", err)
	}
	dl.logger.Debug("Lock released", zap.String("resource", l.key), zap.String("lockID", l.lockID))
	return nil
}

// ExpiresAt is when the lock lapses if it is not released.
func (l *Lease) ExpiresAt() time.Time { return l.expiresAt }
