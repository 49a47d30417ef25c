package orders

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/apperr"
	"github.com/genius-ankit/Ezy-Eats-sub000/internal/aws"
)

const (
	DefaultShopIndex     = "shop_id-index"
	DefaultCustomerIndex = "customer_id-index"
)

// Store is the durable, authoritative copy of every order.
type Store struct {
	client        aws.DynamoDBAPI
	tableName     string
	shopIndex     string
	customerIndex string
	nowFunc       func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:        client,
		tableName:     tableName,
		shopIndex:     DefaultShopIndex,
		customerIndex: DefaultCustomerIndex,
		nowFunc:       time.Now,
	}
}

// WithIndexes overrides the GSI names used by the shop and customer queries.
func (s *Store) WithIndexes(shopIndex, customerIndex string) *Store {
	if shopIndex != "" {
		s.shopIndex = shopIndex
	}
	if customerIndex != "" {
		s.customerIndex = customerIndex
	}
	return s
}

// TableName returns the orders table name.
func (s *Store) TableName() string { return s.tableName }

func (s *Store) marshal(order Order) (map[string]types.AttributeValue, error) {
	order.UpdatedAt = s.nowFunc().UTC()
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order item: %w", err)
	}
	return item, nil
}

// Create persists a new order. It fails with apperr.ErrAlreadyExists if the
// id is taken.
func (s *Store) Create(ctx context.Context, order Order) error {
	item, err := s.marshal(order)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			return fmt.Errorf("create order %s: %w", order.ID, apperr.ErrAlreadyExists)
		}
		return classify("put item", err)
	}
	return nil
}

// CreateWithIdempotency atomically creates:
//   - idempotency record in idempotencyTable (guarded by attribute_not_exists(idempotency_key))
//   - order record in the orders table (guarded by attribute_not_exists(order_id))
//
// A replayed key fails with apperr.ErrDuplicateRequest, an id collision with
// apperr.ErrAlreadyExists.
func (s *Store) CreateWithIdempotency(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	orderMap, err := s.marshal(order)
	if err != nil {
		return err
	}

	input := &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: aws.String("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: aws.String("attribute_not_exists(order_id)"),
				},
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, input)
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			reasons := tce.CancellationReasons
			if len(reasons) > 0 && conditionFailed(reasons[0]) {
				return fmt.Errorf("create order %s: %w", order.ID, apperr.ErrDuplicateRequest)
			}
			if len(reasons) > 1 && conditionFailed(reasons[1]) {
				return fmt.Errorf("create order %s: %w", order.ID, apperr.ErrAlreadyExists)
			}
			for _, r := range reasons {
				if r.Code != nil && transientReasons[*r.Code] {
					return fmt.Errorf("create order %s: %w: %w", order.ID, apperr.ErrDurableUnavailable, err)
				}
			}
		}
		return classify("transact write", err)
	}
	return nil
}

// transientReasons are cancellation reasons a replay of the same transaction
// can get past. TransactionConflict is what a concurrent submission with the
// same idempotency key produces.
var transientReasons = map[string]bool{
	"TransactionConflict":           true,
	"ThrottlingError":               true,
	"ProvisionedThroughputExceeded": true,
}

func conditionFailed(r types.CancellationReason) bool {
	return r.Code != nil && *r.Code == "ConditionalCheckFailed"
}

// GetByID fetches an order by order_id. Unknown ids fail with apperr.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, classify("get item", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	return decode(out.Item)
}

// UpdateStatus moves the order from expected to target in a single
// conditional write and records at under statusTimestamps[target]. The
// write only lands if the stored status still equals expected and target
// has never been entered before; otherwise it fails with
// apperr.ErrStaleTransition. The updated record is returned.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, target Status, at time.Time) (*Order, error) {
	now := s.nowFunc().UTC()
	names := map[string]string{
		"#s":      "status",
		"#ts":     "status_timestamps",
		"#target": string(target),
	}
	values := map[string]types.AttributeValue{
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":target":   &types.AttributeValueMemberS{Value: string(target)},
		":at":       &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	condition := "#s = :expected"
	if alias, ok := LegacyAlias(expected); ok {
		condition = "#s IN (:expected, :legacy)"
		values[":legacy"] = &types.AttributeValueMemberS{Value: alias}
	}
	condition += " AND attribute_not_exists(#ts.#target)"

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 orderKey(orderID),
		UpdateExpression:                    aws.String("SET #s = :target, #ts.#target = :at, updated_at = :ua"),
		ConditionExpression:                 &condition,
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var cf *types.ConditionalCheckFailedException
		if errors.As(err, &cf) {
			if len(cf.Item) == 0 {
				return nil, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
			}
			current := "unknown"
			if old, derr := decode(cf.Item); derr == nil {
				current = string(old.Status)
			}
			return nil, fmt.Errorf("order %s is %s, expected %s: %w", orderID, current, expected, apperr.ErrStaleTransition)
		}
		return nil, classify("update item", err)
	}
	return decode(out.Attributes)
}

// QueryByShop returns the shop's orders, optionally restricted to statuses.
func (s *Store) QueryByShop(ctx context.Context, shopID string, statuses ...Status) ([]Order, error) {
	return s.queryIndex(ctx, s.shopIndex, "shop_id", shopID, statuses)
}

// QueryByCustomer returns every order placed by the customer.
func (s *Store) QueryByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return s.queryIndex(ctx, s.customerIndex, "customer_id", customerID, nil)
}

func (s *Store) queryIndex(ctx context.Context, index, attr, value string, statuses []Status) ([]Order, error) {
	names := map[string]string{"#pk": attr}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: value},
	}
	input := &dyn.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 &index,
		KeyConditionExpression:    aws.String("#pk = :pk"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
	if filter := statusFilter(statuses, values); filter != "" {
		names["#s"] = "status"
		input.FilterExpression = &filter
	}

	var out []Order
	for {
		page, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, classify("query "+index, err)
		}
		for _, item := range page.Items {
			o, err := decode(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *o)
		}
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
}

// statusFilter builds "#s IN (...)" and registers its placeholders in values.
// Filtering on StatusNew also matches the legacy spelling.
func statusFilter(statuses []Status, values map[string]types.AttributeValue) string {
	if len(statuses) == 0 {
		return ""
	}
	placeholders := ""
	add := func(v string) {
		ph := fmt.Sprintf(":s%d", len(values))
		values[ph] = &types.AttributeValueMemberS{Value: v}
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += ph
	}
	for _, st := range statuses {
		add(string(st))
		if alias, ok := LegacyAlias(st); ok {
			add(alias)
		}
	}
	return "#s IN (" + placeholders + ")"
}

func decode(item map[string]types.AttributeValue) (*Order, error) {
	var o Order
	if err := attributevalue.UnmarshalMap(item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o.Normalize()
	return &o, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionConflictException":           true,
	"TransactionInProgressException":         true,
}

// classify wraps err, marking infrastructure-class failures with
// apperr.ErrDurableUnavailable so callers know they may retry.
func classify(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		if transientCodes[ae.ErrorCode()] || ae.ErrorFault() == smithy.FaultServer {
			return fmt.Errorf("%s: %w: %w", op, apperr.ErrDurableUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var sendErr *smithyhttp.RequestSendError
	var netErr net.Error
	if errors.As(err, &sendErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, apperr.ErrDurableUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func boolPtr(b bool) *bool { return &b }
