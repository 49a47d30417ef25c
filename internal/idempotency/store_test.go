package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genius-ankit/Ezy-Eats-sub000/internal/dynamotest"
)

func TestRecord_Get_MarkDone(t *testing.T) {
	fake := dynamotest.New()
	fake.CreateTable("idempotency-table", "idempotency_key", nil)
	s := NewStore(fake, "idempotency-table", 48*time.Hour)
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	ctx := context.Background()
	rec := s.NewRecord("test-key-1", "order-123", "abc")
	assert.Equal(t, fixed.Add(48*time.Hour).Unix(), rec.ExpiresAt)

	item, err := attributevalue.MarshalMap(rec)
	require.NoError(t, err)
	require.NoError(t, fake.PutRaw("idempotency-table", item))

	got, err := s.Get(ctx, "test-key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, "order-123", got.OrderID)
	assert.Equal(t, "abc", got.RequestHash)

	require.NoError(t, s.MarkDone(ctx, "test-key-1", 201))
	raw := fake.Item("idempotency-table", "test-key-1")
	st, ok := raw["status"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, StatusDone, st.Value)
	rs, ok := raw["response_status"].(*types.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "201", rs.Value)
}

func TestGet_Missing(t *testing.T) {
	fake := dynamotest.New()
	fake.CreateTable("idem", "idempotency_key", nil)
	s := NewStore(fake, "idem", time.Hour)

	got, err := s.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	err = s.MarkDone(context.Background(), "nope", 201)
	assert.Error(t, err, "mark done must not create a record")
}

func TestHashRequest(t *testing.T) {
	a, err := HashRequest(map[string]int{"qty": 1})
	require.NoError(t, err)
	b, err := HashRequest(map[string]int{"qty": 1})
	require.NoError(t, err)
	c, err := HashRequest(map[string]int{"qty": 2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
