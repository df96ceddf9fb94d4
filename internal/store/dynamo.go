// Package store implements the user repository and delivery ledger on
// DynamoDB. The table's primary key is the user id; a global secondary index
// on the derived MM-DD key serves the recurrence lookup. The delivery ledger
// lives inside the user item as a map attribute and is advanced exclusively
// through conditional updates, which is what makes delivery commits mutually
// exclusive across workers.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"wisher/internal/types"
)

// MonthDayIndex is the GSI that projects users by their MM-DD recurrence key.
const MonthDayIndex = "birth_month_day-index"

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// UserStore is the DynamoDB-backed user repository.
type UserStore struct {
	client DynamoAPI
	table  string
}

// NewUserStore creates a UserStore over the given client and table name.
func NewUserStore(client DynamoAPI, table string) *UserStore {
	return &UserStore{client: client, table: table}
}

// Get fetches a user by id. Returns (nil, nil) when the user does not exist.
func (s *UserStore) Get(ctx context.Context, id string) (*types.User, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: get user %s: %w", id, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var u types.User
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("store: unmarshal user %s: %w", id, err)
	}
	return &u, nil
}

// Put writes the full user item, replacing any existing version.
func (s *UserStore) Put(ctx context.Context, u *types.User) error {
	if u.Deliveries == nil {
		u.Deliveries = map[string]types.DeliveryMarker{}
	}

	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("store: marshal user %s: %w", u.ID, err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("store: put user %s: %w", u.ID, err)
	}
	return nil
}

// Delete removes a user by id. Deleting a missing user is not an error.
func (s *UserStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("store: delete user %s: %w", id, err)
	}
	return nil
}

// QueryByMonthDay returns all users whose recurrence key equals monthDay
// (MM-DD), excluding those whose ledger already witnesses a delivery of the
// given kind on excludeDeliveredOn. The exclusion is pushed down as a filter
// expression so already-served users never leave the database. Pagination is
// followed to exhaustion.
func (s *UserStore) QueryByMonthDay(ctx context.Context, monthDay, kind, excludeDeliveredOn string) ([]*types.User, error) {
	var users []*types.User
	var startKey map[string]ddbtypes.AttributeValue

	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			IndexName:              aws.String(MonthDayIndex),
			KeyConditionExpression: aws.String("birth_month_day = :md"),
			// The filter mirrors the commit condition: a user passes
			// unless the ledger already holds exactly this occurrence
			// date. The stored date carries the year, so equality alone
			// identifies the occurrence even when the commit landed just
			// before UTC midnight at a year boundary.
			FilterExpression: aws.String(
				"attribute_not_exists(deliveries.#k.last_delivered_date) OR " +
					"deliveries.#k.last_delivered_date <> :occ"),
			ExpressionAttributeNames: map[string]string{
				"#k": kind,
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":md":  &ddbtypes.AttributeValueMemberS{Value: monthDay},
				":occ": &ddbtypes.AttributeValueMemberS{Value: excludeDeliveredOn},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("store: query month-day %s: %w", monthDay, err)
		}

		var page []*types.User
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("store: unmarshal month-day %s page: %w", monthDay, err)
		}
		users = append(users, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return users, nil
}

// MarkDelivered commits one delivery of the given kind and occurrence date to
// the user's ledger. Returns (true, nil) when this call won the commit,
// (false, nil) when another worker already committed the same occurrence, and
// (false, err) on store failure. The conditional expression is the
// cross-process mutex: at most one caller per (user, kind, occurrence)
// observes true. Occurrence dates include the year, so a plain inequality on
// the stored date is the entire guard.
func (s *UserStore) MarkDelivered(ctx context.Context, userID, kind, occurrenceDate string, now time.Time) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression: aws.String("SET deliveries.#k = :marker"),
		ConditionExpression: aws.String(
			"attribute_exists(id) AND (" +
				"attribute_not_exists(deliveries.#k.last_delivered_date) OR " +
				"deliveries.#k.last_delivered_date <> :occ)"),
		ExpressionAttributeNames: map[string]string{
			"#k": kind,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":occ": &ddbtypes.AttributeValueMemberS{Value: occurrenceDate},
			":marker": &ddbtypes.AttributeValueMemberM{
				Value: map[string]ddbtypes.AttributeValue{
					"last_delivered_date": &ddbtypes.AttributeValueMemberS{Value: occurrenceDate},
					"last_delivered_at":   &ddbtypes.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)},
				},
			},
		},
	})
	if err != nil {
		var cfe *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			// Lost the race to another worker, or the user was deleted.
			// Either way the delivery must not be repeated.
			return false, nil
		}
		return false, fmt.Errorf("store: mark delivered %s/%s: %w", userID, kind, err)
	}
	return true, nil
}
