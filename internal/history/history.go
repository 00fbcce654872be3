// Package history keeps a DynamoDB marker per sent report so a scheduler
// retry does not deliver the same report twice.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PutItemAPI abstracts the DynamoDB PutItem operation.
type PutItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DeleteItemAPI abstracts the DynamoDB DeleteItem operation.
type DeleteItemAPI interface {
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// API combines the marker operations.
type API interface {
	PutItemAPI
	DeleteItemAPI
}

// Mark records that a report for the given channel and date was sent. It
// returns false when a marker already exists, meaning another invocation got
// there first.
func Mark(ctx context.Context, db PutItemAPI, table, channel, date string) (bool, error) {
	_, err := db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &table,
		Item: map[string]types.AttributeValue{
			"NotifyKey": &types.AttributeValueMemberS{Value: channel + "#" + date},
			"Channel":   &types.AttributeValueMemberS{Value: channel},
			"SentAt":    &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(NotifyKey)"),
	})
	if err != nil {
		var ccfe *types.ConditionalCheckFailedException
		if errors.As(err, &ccfe) {
			return false, nil
		}
		return false, fmt.Errorf("mark notify %s: %w", date, err)
	}
	return true, nil
}

// Unmark removes the marker again. A marker must not outlive a failed
// delivery, or the retry would skip the report.
func Unmark(ctx context.Context, db DeleteItemAPI, table, channel, date string) error {
	_, err := db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &table,
		Key: map[string]types.AttributeValue{
			"NotifyKey": &types.AttributeValueMemberS{Value: channel + "#" + date},
		},
	})
	if err != nil {
		return fmt.Errorf("unmark notify %s: %w", date, err)
	}
	return nil
}
