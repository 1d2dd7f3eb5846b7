package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeAPI keeps items in memory. Conditions are evaluated only for the
// shapes the lock writes: a numeric expiry on put and owner strings on
// delete.
type fakeAPI struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	calls    map[string]int
	failWith error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: map[string]map[string]types.AttributeValue{}, calls: map[string]int{}}
}

func itemKey(item map[string]types.AttributeValue) string {
	return str(item["PK"]) + "|" + str(item["SK"])
}

func str(v types.AttributeValue) string {
	if s, ok := v.(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func num(v types.AttributeValue) int64 {
	if n, ok := v.(*types.AttributeValueMemberN); ok {
		i, _ := strconv.ParseInt(n.Value, 10, 64)
		return i
	}
	return 0
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Query"]++
	if f.failWith != nil {
		return nil, f.failWith
	}

	var pk string
	for _, v := range in.ExpressionAttributeValues {
		pk = str(v)
	}
	var keys []string
	for k, item := range f.items {
		if str(item["PK"]) == pk {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := itemKey(in.ExclusiveStartKey)
		for start < len(keys) && keys[start] <= after {
			start++
		}
	}
	end := len(keys)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	out := &dynamodb.QueryOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.items[k])
	}
	if end < len(keys) {
		last := f.items[keys[end-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	return out, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PutItem"]++
	k := itemKey(in.Item)
	if existing, ok := f.items[k]; ok && in.ConditionExpression != nil {
		var now int64
		for _, v := range in.ExpressionAttributeValues {
			now = num(v)
		}
		if num(existing["ExpiresAt"]) >= now {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("held")}
		}
	}
	f.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["DeleteItem"]++
	k := itemKey(in.Key)
	existing, ok := f.items[k]
	if in.ConditionExpression != nil {
		want := map[string]bool{}
		for _, v := range in.ExpressionAttributeValues {
			want[str(v)] = true
		}
		if !ok || !want[str(existing["LockID"])] || !want[str(existing["Owner"])] {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("not owner")}
		}
	}
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["BatchWriteItem"]++
	for _, reqs := range in.RequestItems {
		if len(reqs) > maxBatchItems {
			return nil, errors.New("too many items in batch")
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				f.items[itemKey(r.PutRequest.Item)] = r.PutRequest.Item
			case r.DeleteRequest != nil:
				delete(f.items, itemKey(r.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["TransactWriteItems"]++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if len(in.TransactItems) > maxTransactItems {
		return nil, errors.New("too many items in transaction")
	}
	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			f.items[itemKey(it.Put.Item)] = it.Put.Item
		case it.Delete != nil:
			delete(f.items, itemKey(it.Delete.Key))
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if sk := str(item["SK"]); len(sk) >= len(prefix) && sk[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
