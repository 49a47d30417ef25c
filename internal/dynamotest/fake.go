// Package dynamotest provides an in-memory DynamoDB fake for unit tests.
// It understands the small expression dialect the stores emit: SET updates
// on top-level or one-level nested attributes, and conditions built from
// attribute_exists, attribute_not_exists, "=" and IN joined by AND.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type table struct {
	pk      string
	indexes map[string]string
	items   map[string]map[string]types.AttributeValue
}

// Fake is a concurrency-safe stand-in for the DynamoDB client.
type Fake struct {
	mu       sync.Mutex
	tables   map[string]*table
	failures map[string][]error
	calls    map[string]int
}

func New() *Fake {
	return &Fake{
		tables:   map[string]*table{},
		failures: map[string][]error{},
		calls:    map[string]int{},
	}
}

// CreateTable registers a table keyed by pk. indexes maps a GSI name to its
// partition key attribute.
func (f *Fake) CreateTable(name, pk string, indexes map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = &table{pk: pk, indexes: indexes, items: map[string]map[string]types.AttributeValue{}}
}

// FailNext queues errors returned by the next calls to op ("PutItem",
// "GetItem", "UpdateItem", "TransactWriteItems", "Query").
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Item returns a copy of the stored item, or nil.
func (f *Fake) Item(tableName, key string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableName]
	if !ok {
		return nil
	}
	item, ok := t.items[key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of items in a table.
func (f *Fake) Len(tableName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tables[tableName]; ok {
		return len(t.items)
	}
	return 0
}

// PutRaw stores item without any condition checks.
func (f *Fake) PutRaw(tableName string, item map[string]types.AttributeValue) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(tableName)
	if err != nil {
		return err
	}
	key, err := t.keyOf(item)
	if err != nil {
		return err
	}
	t.items[key] = copyItem(item)
	return nil
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) table(name string) (*table, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + name)}
	}
	return t, nil
}

func (t *table) keyOf(item map[string]types.AttributeValue) (string, error) {
	v, ok := item[t.pk].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("missing partition key %s", t.pk)
	}
	return v.Value, nil
}

func (f *Fake) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Item)
	if err != nil {
		return nil, err
	}
	existing := t.items[key]
	ok, err := evalCondition(aws.ToString(params.ConditionExpression), existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	t.items[key] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[key]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}
	existing := t.items[key]
	ok, err := evalCondition(aws.ToString(params.ConditionExpression), existing, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		ex := &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		if params.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld && existing != nil {
			ex.Item = copyItem(existing)
		}
		return nil, ex
	}

	updated := copyItem(existing)
	if updated == nil {
		updated = copyItem(params.Key)
	}
	if err := applySet(aws.ToString(params.UpdateExpression), updated, params.ExpressionAttributeNames, params.ExpressionAttributeValues); err != nil {
		return nil, err
	}
	t.items[key] = updated

	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		p := it.Put
		if p == nil {
			return nil, errors.New("dynamotest: only Put is supported in transactions")
		}
		t, err := f.table(aws.ToString(p.TableName))
		if err != nil {
			return nil, err
		}
		key, err := t.keyOf(p.Item)
		if err != nil {
			return nil, err
		}
		ok, err := evalCondition(aws.ToString(p.ConditionExpression), t.items[key], p.ExpressionAttributeNames, p.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			canceled = true
			reasons[i] = types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range params.TransactItems {
		t, _ := f.table(aws.ToString(it.Put.TableName))
		key, _ := t.keyOf(it.Put.Item)
		t.items[key] = copyItem(it.Put.Item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	t, err := f.table(aws.ToString(params.TableName))
	if err != nil {
		return nil, err
	}
	if params.IndexName != nil {
		if _, ok := t.indexes[*params.IndexName]; !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %s", *params.IndexName)
		}
	}

	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []map[string]types.AttributeValue
	for _, k := range keys {
		item := t.items[k]
		match, err := evalCondition(aws.ToString(params.KeyConditionExpression), item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		match, err = evalCondition(aws.ToString(params.FilterExpression), item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, copyItem(item))
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if m, ok := v.(*types.AttributeValueMemberM); ok {
			out[k] = &types.AttributeValueMemberM{Value: copyItem(m.Value)}
			continue
		}
		out[k] = v
	}
	return out
}

func resolvePath(expr string, names map[string]string) []string {
	parts := strings.Split(strings.TrimSpace(expr), ".")
	for i, p := range parts {
		if strings.HasPrefix(p, "#") {
			if n, ok := names[p]; ok {
				parts[i] = n
			}
		}
	}
	return parts
}

func lookup(item map[string]types.AttributeValue, path []string) (types.AttributeValue, bool) {
	if item == nil {
		return nil, false
	}
	cur, ok := item[path[0]]
	for _, seg := range path[1:] {
		if !ok {
			return nil, false
		}
		m, isMap := cur.(*types.AttributeValueMemberM)
		if !isMap {
			return nil, false
		}
		cur, ok = m.Value[seg]
	}
	return cur, ok
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(expr, " AND ") {
		clause = strings.TrimSpace(clause)
		ok, err := evalClause(clause, item, names, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalClause(clause string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	switch {
	case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
		inner := strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")")
		_, ok := lookup(item, resolvePath(inner, names))
		return !ok, nil

	case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
		inner := strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")")
		_, ok := lookup(item, resolvePath(inner, names))
		return ok, nil

	case strings.Contains(clause, " IN "):
		parts := strings.SplitN(clause, " IN ", 2)
		cur, ok := lookup(item, resolvePath(parts[0], names))
		if !ok {
			return false, nil
		}
		list := strings.Trim(strings.TrimSpace(parts[1]), "()")
		for _, placeholder := range strings.Split(list, ",") {
			want, found := values[strings.TrimSpace(placeholder)]
			if !found {
				return false, fmt.Errorf("dynamotest: missing value %s", placeholder)
			}
			if reflect.DeepEqual(cur, want) {
				return true, nil
			}
		}
		return false, nil

	case strings.Contains(clause, " = "):
		parts := strings.SplitN(clause, " = ", 2)
		cur, ok := lookup(item, resolvePath(parts[0], names))
		if !ok {
			return false, nil
		}
		want, found := values[strings.TrimSpace(parts[1])]
		if !found {
			return false, fmt.Errorf("dynamotest: missing value %s", parts[1])
		}
		return reflect.DeepEqual(cur, want), nil
	}
	return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
}

func applySet(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("dynamotest: unsupported update %q", expr)
	}
	for _, assignment := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		parts := strings.SplitN(assignment, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("dynamotest: bad assignment %q", assignment)
		}
		path := resolvePath(parts[0], names)
		val, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return fmt.Errorf("dynamotest: missing value %s", parts[1])
		}
		switch len(path) {
		case 1:
			item[path[0]] = val
		case 2:
			m, isMap := item[path[0]].(*types.AttributeValueMemberM)
			if !isMap {
				return fmt.Errorf("dynamotest: %s is not a map", path[0])
			}
			m.Value[path[1]] = val
		default:
			return fmt.Errorf("dynamotest: path too deep %q", parts[0])
		}
	}
	return nil
}
