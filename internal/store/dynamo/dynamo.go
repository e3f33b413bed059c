// Package dynamo provides the DynamoDB-backed transcript store.
package dynamo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"ai-voice-relay-service/internal/models"
)

// dynamodbAPI is the minimal DynamoDB interface required by Store.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Store wraps a DynamoDB table keyed by (username, conversation_id).
type Store struct {
	api       dynamodbAPI
	tableName string
}

// New creates a Store over an existing DynamoDB client.
func New(api dynamodbAPI, tableName string) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamo: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamo: table name must not be empty")
	}
	return &Store{api: api, tableName: tableName}, nil
}

// Connect loads AWS configuration for the region and returns a Store.
func Connect(ctx context.Context, region, tableName string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), tableName)
}

// Upsert writes the conversation record. The length-dominance rule is
// enforced atomically by a condition expression, so concurrent or retried
// saves cannot regress a longer stored transcript.
func (s *Store) Upsert(ctx context.Context, username, conversationID, condition string, msgs []models.TranscriptMessage) error {
	payload, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("dynamo: marshal messages: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"username":        &types.AttributeValueMemberS{Value: username},
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
			"condition":       &types.AttributeValueMemberS{Value: condition},
			"timestamp":       &types.AttributeValueMemberS{Value: now},
			"messages":        &types.AttributeValueMemberS{Value: string(payload)},
			"total_messages":  &types.AttributeValueMemberN{Value: strconv.Itoa(len(msgs))},
			"updated_at":      &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_not_exists(username) OR total_messages < :n"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberN{Value: strconv.Itoa(len(msgs))},
		},
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			// The stored record already has at least as many messages;
			// duplicate or out-of-order save, nothing to do.
			return nil
		}
		return fmt.Errorf("dynamo: upsert: %w", err)
	}
	return nil
}

// Read returns the stored message list, or nil if the key is absent.
func (s *Store) Read(ctx context.Context, username, conversationID string) ([]models.TranscriptMessage, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"username":        &types.AttributeValueMemberS{Value: username},
			"conversation_id": &types.AttributeValueMemberS{Value: conversationID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo: read: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	attr, ok := out.Item["messages"]
	if !ok {
		return nil, nil
	}
	str, ok := attr.(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("dynamo: messages attribute has unexpected type %T", attr)
	}
	var msgs []models.TranscriptMessage
	if err := json.Unmarshal([]byte(str.Value), &msgs); err != nil {
		return nil, fmt.Errorf("dynamo: unmarshal messages: %w", err)
	}
	return msgs, nil
}
