// Package storage persists access request state in DynamoDB. Each
// request is an independent item keyed by request_id; the
// ExpirationIndex GSI on (status, expires_at) drives the janitor's
// range queries.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/common-fate/boundary/pkg/request"
	"github.com/pkg/errors"
)

// ExpirationIndex is the GSI keyed on (status, expires_at).
const ExpirationIndex = "ExpirationIndex"

// retentionWindow keeps records queryable for audit after revocation;
// DynamoDB's TTL mechanism purges them afterwards.
const retentionWindow = 90 * 24 * time.Hour

// Error marks a persistence failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("state store %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

func NewDynamoStore(cfg aws.Config, table string) *DynamoStore {
	return &DynamoStore{client: dynamodb.NewFromConfig(cfg), table: table}
}

// item mirrors request.Request with the retention TTL attribute added.
type item struct {
	request.Request
	TTL int64 `dynamodbav:"ttl"`
}

// Save upserts the request by request_id.
func (s *DynamoStore) Save(ctx context.Context, req *request.Request) error {
	av, err := attributevalue.MarshalMap(item{
		Request: *req,
		TTL:     req.ExpiresAt + int64(retentionWindow.Seconds()),
	})
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}

// UpdateStatus mutates only the status attribute of a request.
func (s *DynamoStore) UpdateStatus(ctx context.Context, requestID string, status request.Status) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]ddbtypes.AttributeValue{
			"request_id": &ddbtypes.AttributeValueMemberS{Value: requestID},
		},
		UpdateExpression:         aws.String("SET #s = :status"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":status": &ddbtypes.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		return &Error{Op: fmt.Sprintf("update status of %s", requestID), Err: err}
	}
	return nil
}

// QueryExpiredActive returns every ACTIVE request whose expiry has
// passed. The janitor drives these to REVOKED.
func (s *DynamoStore) QueryExpiredActive(ctx context.Context, now time.Time) ([]request.Request, error) {
	return s.queryExpired(ctx, request.StatusActive, now)
}

// QueryStalePending returns PENDING requests whose expiry has passed:
// provisioning failed after the record was written and nothing will
// transition them out. See the janitor's stale-PENDING pass.
func (s *DynamoStore) QueryStalePending(ctx context.Context, now time.Time) ([]request.Request, error) {
	return s.queryExpired(ctx, request.StatusPending, now)
}

func (s *DynamoStore) queryExpired(ctx context.Context, status request.Status, now time.Time) ([]request.Request, error) {
	var records []request.Request
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.table,
			IndexName:              aws.String(ExpirationIndex),
			KeyConditionExpression: aws.String("#s = :status AND expires_at < :now"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":status": &ddbtypes.AttributeValueMemberS{Value: string(status)},
				":now":    &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, &Error{Op: fmt.Sprintf("query expired %s", status), Err: err}
		}
		page, err := unmarshalRecords(out.Items)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}

// ListByStatus returns every request currently in the given status,
// newest expiry first is not guaranteed; callers sort for display.
func (s *DynamoStore) ListByStatus(ctx context.Context, status request.Status) ([]request.Request, error) {
	var records []request.Request
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.table,
			IndexName:              aws.String(ExpirationIndex),
			KeyConditionExpression: aws.String("#s = :status"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":status": &ddbtypes.AttributeValueMemberS{Value: string(status)},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, &Error{Op: fmt.Sprintf("list %s", status), Err: err}
		}
		page, err := unmarshalRecords(out.Items)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		startKey = out.LastEvaluatedKey
		if startKey == nil {
			return records, nil
		}
	}
}

func unmarshalRecords(items []map[string]ddbtypes.AttributeValue) ([]request.Request, error) {
	records := make([]request.Request, 0, len(items))
	for _, raw := range items {
		var rec request.Request
		if err := attributevalue.UnmarshalMap(raw, &rec); err != nil {
			return nil, &Error{Op: "unmarshal record", Err: errors.Wrap(err, "corrupt item")}
		}
		records = append(records, rec)
	}
	return records, nil
}
