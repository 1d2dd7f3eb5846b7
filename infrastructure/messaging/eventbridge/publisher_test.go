package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"graphsync/domain/events"
)

type MockEventBridge struct {
	mock.Mock
}

func (m *MockEventBridge) PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*eventbridge.PutEventsOutput)
	return out, args.Error(1)
}

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestPublishBatchChunksByTen(t *testing.T) {
	client := new(MockEventBridge)
	var sizes []int
	client.On("PutEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sizes = append(sizes, len(args.Get(1).(*eventbridge.PutEventsInput).Entries))
		}).
		Return(&eventbridge.PutEventsOutput{}, nil)
	p := NewPublisher(client, "bus", nil)

	batch := make([]events.DomainEvent, 0, 23)
	for i := 0; i < 23; i++ {
		batch = append(batch, events.NewMutationRefused("DELETE", at))
	}
	require.NoError(t, p.PublishBatch(context.Background(), batch))
	assert.Equal(t, []int{10, 10, 3}, sizes)
}

func TestPublishEntryShape(t *testing.T) {
	client := new(MockEventBridge)
	client.On("PutEvents", mock.Anything, mock.MatchedBy(func(in *eventbridge.PutEventsInput) bool {
		if len(in.Entries) != 1 {
			return false
		}
		e := in.Entries[0]
		var detail map[string]any
		if err := json.Unmarshal([]byte(aws.ToString(e.Detail)), &detail); err != nil {
			return false
		}
		return aws.ToString(e.Source) == events.Source &&
			aws.ToString(e.DetailType) == "entity.creation_abandoned" &&
			aws.ToString(e.EventBusName) == "bus" &&
			detail["aggregate_id"] == "Ann"
	})).Return(&eventbridge.PutEventsOutput{}, nil)
	p := NewPublisher(client, "bus", nil)

	require.NoError(t, p.Publish(context.Background(), events.NewCreationAbandoned("Ann", 10, at)))
	client.AssertExpectations(t)
}

func TestPublishReportsFailedEntries(t *testing.T) {
	client := new(MockEventBridge)
	client.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
	}, nil)
	p := NewPublisher(client, "bus", nil)

	err := p.Publish(context.Background(), events.NewMutationRefused("REMOVE", at))
	assert.EqualError(t, err, "1 events failed to publish")
}

func TestPublishWrapsClientError(t *testing.T) {
	client := new(MockEventBridge)
	client.On("PutEvents", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))
	p := NewPublisher(client, "bus", nil)

	err := p.Publish(context.Background(), events.NewMutationRefused("REMOVE", at))
	assert.ErrorContains(t, err, "throttled")
}

func TestPublishEmptyBatch(t *testing.T) {
	client := new(MockEventBridge)
	p := NewPublisher(client, "bus", nil)

	require.NoError(t, p.PublishBatch(context.Background(), nil))
	client.AssertNotCalled(t, "PutEvents", mock.Anything, mock.Anything)
}
