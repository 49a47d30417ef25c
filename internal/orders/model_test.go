package orders

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw     string
		want    Status
		wantErr bool
	}{
		{"new", StatusNew, false},
		{"pending", StatusNew, false},
		{"PENDING", StatusNew, false},
		{" Accepted ", StatusAccepted, false},
		{"preparing", StatusPreparing, false},
		{"ready", StatusReady, false},
		{"completed", StatusCompleted, false},
		{"cancelled", StatusCancelled, false},
		{"shipped", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseStatus(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusReady.Terminal())
	assert.True(t, StatusNew.Active())
	assert.False(t, Status("pending").Valid())
	assert.Equal(t, 1, StatusNew.Priority())
	assert.Equal(t, 6, StatusCancelled.Priority())
	assert.Equal(t, 7, Status("bogus").Priority())
}

func TestOrderJSON_NormalizesLegacyStatus(t *testing.T) {
	raw := `{"id":"o1","status":"pending","statusTimestamps":{"pending":"2024-05-01T10:00:00Z"}}`
	var o Order
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	assert.Equal(t, StatusNew, o.Status)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), o.StatusTimestamps[StatusNew])
}

func TestOrderJSON_FieldNames(t *testing.T) {
	o := Order{
		ID:               "o1",
		CustomerID:       "c1",
		ShopID:           "s1",
		Items:            []Item{{ItemID: "i1", Name: "Dosa", UnitPrice: 5, Quantity: 2}},
		TotalAmount:      10,
		Status:           StatusNew,
		StatusTimestamps: map[Status]time.Time{StatusNew: time.Unix(0, 0).UTC()},
	}
	b, err := json.Marshal(o)
	require.NoError(t, err)
	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &generic))
	for _, field := range []string{"id", "customerId", "shopId", "items", "totalAmount", "status",
		"statusTimestamps", "paymentMethod", "pickupOption", "specialInstructions", "hasRating"} {
		assert.Contains(t, generic, field)
	}
	assert.NotContains(t, generic, "UpdatedAt")
}

func TestNormalize_MergesLegacyTimestampKeys(t *testing.T) {
	early := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)
	o := Order{
		Status:           "PENDING",
		StatusTimestamps: map[Status]time.Time{"pending": late, StatusNew: early},
	}
	o.Normalize()
	assert.Equal(t, StatusNew, o.Status)
	assert.Len(t, o.StatusTimestamps, 1)
	assert.Equal(t, early, o.StatusTimestamps[StatusNew])
}

func TestTotalOf(t *testing.T) {
	items := []Item{
		{ItemID: "a", UnitPrice: 5, Quantity: 2},
		{ItemID: "b", UnitPrice: 3, Quantity: 1},
	}
	assert.Equal(t, 13.0, TotalOf(items))
	assert.Equal(t, 0.3, TotalOf([]Item{{UnitPrice: 0.1, Quantity: 3}}))
	assert.Equal(t, int64(30), Cents(TotalOf([]Item{{UnitPrice: 0.1, Quantity: 3}})))
}

func TestClone_DoesNotAlias(t *testing.T) {
	o := Order{
		Items:            []Item{{ItemID: "a"}},
		StatusTimestamps: map[Status]time.Time{StatusNew: time.Now()},
	}
	c := o.Clone()
	c.Items[0].ItemID = "b"
	c.StatusTimestamps[StatusAccepted] = time.Now()
	assert.Equal(t, "a", o.Items[0].ItemID)
	assert.Len(t, o.StatusTimestamps, 1)
	assert.Equal(t, 2, c.Version())
}

func at(minute int) map[Status]time.Time {
	return map[Status]time.Time{StatusNew: time.Date(2024, 1, 1, 12, minute, 0, 0, time.UTC)}
}

func TestSortForDisplay(t *testing.T) {
	list := []Order{
		{ID: "done-late", Status: StatusCompleted, StatusTimestamps: at(30)},
		{ID: "new-early", Status: StatusNew, StatusTimestamps: at(1)},
		{ID: "cancel", Status: StatusCancelled, StatusTimestamps: at(5)},
		{ID: "ready", Status: StatusReady, StatusTimestamps: at(2)},
		{ID: "done-early", Status: StatusCompleted, StatusTimestamps: at(10)},
		{ID: "new-late", Status: StatusNew, StatusTimestamps: at(20)},
		{ID: "accepted", Status: StatusAccepted, StatusTimestamps: at(3)},
		{ID: "preparing", Status: StatusPreparing, StatusTimestamps: at(4)},
	}
	SortForDisplay(list)

	var ids []string
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{
		"new-late", "new-early", "accepted", "preparing", "ready",
		"done-early", "done-late", "cancel",
	}, ids)
}

func TestFilterByStatus(t *testing.T) {
	list := []Order{{ID: "1", Status: StatusNew}, {ID: "2", Status: StatusReady}, {ID: "3", Status: StatusNew}}
	assert.Len(t, FilterByStatus(list), 3)
	got := FilterByStatus(list, StatusNew)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
