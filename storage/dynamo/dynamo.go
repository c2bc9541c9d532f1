// Package dynamo stores enriched readings in an AWS DynamoDB table.
//
// The table uses device_id as partition key and sk as sort key. sk is the
// zero-padded epoch millisecond timestamp followed by the reading id, so a
// descending query on a device returns its newest readings first.
package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/c360/sensorstream/errors"
	"github.com/c360/sensorstream/storage"
	"github.com/c360/sensorstream/telemetry"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Config selects the table and, optionally, a local endpoint such as
// DynamoDB Local.
type Config struct {
	Table    string        `json:"table" yaml:"table" mapstructure:"table"`
	Region   string        `json:"region" yaml:"region" mapstructure:"region"`
	Endpoint string        `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

type alertItem struct {
	Kind     string `dynamodbav:"type"`
	Message  string `dynamodbav:"message"`
	Severity string `dynamodbav:"severity"`
}

type readingItem struct {
	DeviceID    string      `dynamodbav:"device_id"`
	SortKey     string      `dynamodbav:"sk"`
	ID          string      `dynamodbav:"id"`
	Temperature float64     `dynamodbav:"temperature"`
	Humidity    float64     `dynamodbav:"humidity"`
	Timestamp   int64       `dynamodbav:"ts"`
	IsAnomaly   bool        `dynamodbav:"is_anomaly"`
	Alerts      []alertItem `dynamodbav:"alerts"`
	ExpiresAt   int64       `dynamodbav:"expires_at,omitempty"`
}

// Store is a DynamoDB-backed storage.Store.
type Store struct {
	client API
	table  string
	ttl    time.Duration
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New loads the default AWS configuration chain and creates a store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "DynamoStore", "New", "read table name")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.WrapFatal(err, "DynamoStore", "New", "load AWS config")
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a store over an existing client.
func NewWithClient(client API, cfg Config) *Store {
	return &Store{client: client, table: cfg.Table, ttl: cfg.TTL, now: time.Now}
}

// Insert writes e under a new id.
func (s *Store) Insert(ctx context.Context, e telemetry.EnrichedReading) (string, error) {
	id := storage.NewID()
	it := toItem(e, id)
	if s.ttl > 0 {
		it.ExpiresAt = s.now().Add(s.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return "", errors.WrapInvalid(err, "DynamoStore", "Insert", "marshal reading")
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return "", storage.PersistError(err, "DynamoStore", "Insert", "put item")
	}
	return id, nil
}

// Recent queries the device partition in descending sort key order.
func (s *Store) Recent(ctx context.Context, deviceID string, limit int) ([]telemetry.EnrichedReading, error) {
	if limit <= 0 {
		return []telemetry.EnrichedReading{}, nil
	}

	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("device_id = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: deviceID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, storage.PersistError(err, "DynamoStore", "Recent", "query device")
	}

	var items []readingItem
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
		return nil, errors.WrapInvalid(err, "DynamoStore", "Recent", "unmarshal items")
	}

	readings := make([]telemetry.EnrichedReading, 0, len(items))
	for _, it := range items {
		e, err := fromItem(it)
		if err != nil {
			return nil, errors.WrapInvalid(err, "DynamoStore", "Recent", "decode item")
		}
		readings = append(readings, e)
	}
	return readings, nil
}

// Ping describes the table.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return storage.PersistError(err, "DynamoStore", "Ping", "describe table")
}

// Close is a no-op. The SDK client holds no resources that need release.
func (s *Store) Close() error {
	return nil
}

func sortKey(ts time.Time, id string) string {
	return fmt.Sprintf("%013d#%s", ts.UnixMilli(), id)
}

func toItem(e telemetry.EnrichedReading, id string) readingItem {
	alerts := make([]alertItem, 0, len(e.Alerts))
	for _, a := range e.Alerts {
		alerts = append(alerts, alertItem{Kind: a.Kind.String(), Message: a.Message, Severity: a.Severity.String()})
	}
	return readingItem{
		DeviceID:    e.DeviceID,
		SortKey:     sortKey(e.Timestamp, id),
		ID:          id,
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Timestamp:   e.Timestamp.UnixMilli(),
		IsAnomaly:   e.IsAnomaly,
		Alerts:      alerts,
	}
}

func fromItem(it readingItem) (telemetry.EnrichedReading, error) {
	e := telemetry.EnrichedReading{
		Reading: telemetry.Reading{
			DeviceID:    it.DeviceID,
			Temperature: it.Temperature,
			Humidity:    it.Humidity,
			Timestamp:   time.UnixMilli(it.Timestamp).UTC(),
		},
		ID:        it.ID,
		IsAnomaly: it.IsAnomaly,
		Alerts:    make([]telemetry.Alert, 0, len(it.Alerts)),
	}
	for _, a := range it.Alerts {
		var alert telemetry.Alert
		if err := alert.Kind.UnmarshalJSON([]byte(`"` + a.Kind + `"`)); err != nil {
			return e, err
		}
		if err := alert.Severity.UnmarshalJSON([]byte(`"` + a.Severity + `"`)); err != nil {
			return e, err
		}
		alert.Message = a.Message
		e.Alerts = append(e.Alerts, alert)
	}
	return e, nil
}
