package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoClient is the subset of the DynamoDB API used by DynamoLocker.
type DynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoLocker locks a container with a conditional write to a DynamoDB table.
//
// Table schema:
//   - Partition key: lock_key (string), e.g. "s3://bucket/prefix"
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name anndata-locks \
//	  --attribute-definitions AttributeName=lock_key,AttributeType=S \
//	  --key-schema AttributeName=lock_key,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoLocker struct {
	client DynamoClient
	table  string
	key    string
}

// NewDynamoLocker creates a locker for the container identified by key.
func NewDynamoLocker(client DynamoClient, table, key string) *DynamoLocker {
	return &DynamoLocker{client: client, table: table, key: key}
}

func (l *DynamoLocker) keyAttr() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"lock_key": &types.AttributeValueMemberS{Value: l.key},
	}
}

// Acquire implements Locker.
func (l *DynamoLocker) Acquire(ctx context.Context) (Lease, error) {
	info := newInfo()
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"lock_key":    &types.AttributeValueMemberS{Value: l.key},
			"owner":       &types.AttributeValueMemberS{Value: info.Owner},
			"host":        &types.AttributeValueMemberS{Value: info.Host},
			"pid":         &types.AttributeValueMemberN{Value: strconv.Itoa(info.PID)},
			"acquired_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(info.AcquiredAt.Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(lock_key)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock: put lock item: %w", err)
	}
	return &dynamoLease{locker: l, owner: info.Owner}, nil
}

// Break implements Locker.
func (l *DynamoLocker) Break(ctx context.Context) error {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.table),
		Key:       l.keyAttr(),
	})
	if err != nil {
		return fmt.Errorf("lock: delete lock item: %w", err)
	}
	return nil
}

type dynamoLease struct {
	locker *DynamoLocker
	owner  string
}

func (d *dynamoLease) Owner() string { return d.owner }

func (d *dynamoLease) Release(ctx context.Context) error {
	_, err := d.locker.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.locker.table),
		Key:                 d.locker.keyAttr(),
		ConditionExpression: aws.String("#o = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#o": "owner",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: d.owner},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrNotHeld
		}
		return fmt.Errorf("lock: delete lock item: %w", err)
	}
	return nil
}
