package dynamo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/telemetry"
)

// fakeTable keeps items per partition and answers descending queries.
type fakeTable struct {
	mu      sync.Mutex
	items   map[string][]map[string]types.AttributeValue
	putErr  error
	lastTTL int64
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string][]map[string]types.AttributeValue)}
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	var it readingItem
	if err := attributevalue.UnmarshalMap(in.Item, &it); err != nil {
		return nil, err
	}
	f.lastTTL = it.ExpiresAt
	f.items[it.DeviceID] = append(f.items[it.DeviceID], in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device := in.ExpressionAttributeValues[":d"].(*types.AttributeValueMemberS).Value

	rows := append([]map[string]types.AttributeValue(nil), f.items[device]...)
	sk := func(m map[string]types.AttributeValue) string { return m["sk"].(*types.AttributeValueMemberS).Value }
	sort.Slice(rows, func(i, j int) bool {
		if in.ScanIndexForward != nil && !*in.ScanIndexForward {
			return sk(rows[i]) > sk(rows[j])
		}
		return sk(rows[i]) < sk(rows[j])
	})
	if in.Limit != nil && int(*in.Limit) < len(rows) {
		rows = rows[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: rows}, nil
}

func (f *fakeTable) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func TestStore_InsertAndRecent(t *testing.T) {
	table := newFakeTable()
	s := NewWithClient(table, Config{Table: "readings"})
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := telemetry.EnrichedReading{Reading: telemetry.Reading{
			DeviceID: "sensor_01", Temperature: float64(20 + i), Humidity: 40, Timestamp: base.Add(time.Duration(i) * time.Second),
		}}
		if i == 3 {
			e.IsAnomaly = true
			e.Alerts = []telemetry.Alert{telemetry.NewAnomalyAlert()}
		}
		_, err := s.Insert(ctx, e)
		require.NoError(t, err)
	}

	got, err := s.Recent(ctx, "sensor_01", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 23.0, got[0].Temperature)
	assert.True(t, got[0].IsAnomaly)
	assert.Equal(t, []telemetry.Alert{telemetry.NewAnomalyAlert()}, got[0].Alerts)
	assert.Equal(t, base.Add(3*time.Second), got[0].Timestamp)
	assert.Equal(t, 22.0, got[1].Temperature)
	assert.Empty(t, got[1].Alerts)

	assert.NoError(t, s.Ping(ctx))
}

func TestStore_TTL(t *testing.T) {
	table := newFakeTable()
	s := NewWithClient(table, Config{Table: "readings", TTL: time.Hour})
	fixed := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Insert(context.Background(), telemetry.EnrichedReading{Reading: telemetry.Reading{DeviceID: "a", Timestamp: fixed}})
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(time.Hour).Unix(), table.lastTTL)
}

func TestStore_PutFailureIsTransient(t *testing.T) {
	table := newFakeTable()
	table.putErr = errors.New("ProvisionedThroughputExceededException: throttled")
	s := NewWithClient(table, Config{Table: "readings"})

	_, err := s.Insert(context.Background(), telemetry.EnrichedReading{Reading: telemetry.Reading{DeviceID: "a"}})
	require.Error(t, err)
	assert.True(t, cerrors.IsTransient(err))
}

func TestSortKey_OrdersByTime(t *testing.T) {
	early := sortKey(time.UnixMilli(999), "z")
	late := sortKey(time.UnixMilli(1000), "a")
	assert.Less(t, early, late)
}

func TestNew_RequiresTable(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
}
