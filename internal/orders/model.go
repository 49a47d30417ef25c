package orders

import (
	"math"
	"time"
)

// Item is a single order line. Items are immutable after submission.
type Item struct {
	ItemID    string  `json:"itemId" dynamodbav:"item_id"`
	Name      string  `json:"name" dynamodbav:"name"`
	UnitPrice float64 `json:"unitPrice" dynamodbav:"unit_price"`
	Quantity  int     `json:"quantity" dynamodbav:"quantity"`
}

// Order is the record stored in the orders table and mirrored to the
// broadcast indices. Only Status, StatusTimestamps and HasRating change
// after creation; the core never writes HasRating past creation.
type Order struct {
	ID                  string               `json:"id" dynamodbav:"order_id"` // PK
	CustomerID          string               `json:"customerId" dynamodbav:"customer_id"`
	ShopID              string               `json:"shopId" dynamodbav:"shop_id"`
	Items               []Item               `json:"items" dynamodbav:"items"`
	TotalAmount         float64              `json:"totalAmount" dynamodbav:"total_amount"`
	Status              Status               `json:"status" dynamodbav:"status"`
	StatusTimestamps    map[Status]time.Time `json:"statusTimestamps" dynamodbav:"status_timestamps"`
	PaymentMethod       string               `json:"paymentMethod" dynamodbav:"payment_method"`
	PickupOption        string               `json:"pickupOption" dynamodbav:"pickup_option"`
	SpecialInstructions string               `json:"specialInstructions" dynamodbav:"special_instructions"`
	HasRating           bool                 `json:"hasRating" dynamodbav:"has_rating"`
	UpdatedAt           time.Time            `json:"-" dynamodbav:"updated_at"`
}

// CreatedAt is the instant the order entered StatusNew.
func (o Order) CreatedAt() time.Time {
	return o.StatusTimestamps[StatusNew]
}

// Version counts the statuses the order has entered. It grows by one on
// every accepted transition.
func (o Order) Version() int {
	return len(o.StatusTimestamps)
}

// LatestTimestamp returns the most recent status timestamp.
func (o Order) LatestTimestamp() time.Time {
	var latest time.Time
	for _, ts := range o.StatusTimestamps {
		if ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

// Clone returns a deep copy.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		copy(c.Items, o.Items)
	}
	if o.StatusTimestamps != nil {
		c.StatusTimestamps = make(map[Status]time.Time, len(o.StatusTimestamps))
		for k, v := range o.StatusTimestamps {
			c.StatusTimestamps[k] = v
		}
	}
	return c
}

// Normalize rewrites legacy status spellings on a freshly decoded record.
func (o *Order) Normalize() {
	if s, err := ParseStatus(string(o.Status)); err == nil {
		o.Status = s
	}
	if len(o.StatusTimestamps) == 0 {
		return
	}
	normalized := make(map[Status]time.Time, len(o.StatusTimestamps))
	for k, v := range o.StatusTimestamps {
		s, err := ParseStatus(string(k))
		if err != nil {
			s = k
		}
		if prev, ok := normalized[s]; ok && prev.Before(v) {
			continue
		}
		normalized[s] = v
	}
	o.StatusTimestamps = normalized
}

// TotalOf sums unitPrice*quantity over items, rounded to cents.
func TotalOf(items []Item) float64 {
	var sum float64
	for _, it := range items {
		sum += it.UnitPrice * float64(it.Quantity)
	}
	return RoundCents(sum)
}

func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Cents converts an amount to integer cents for exact comparison.
func Cents(v float64) int64 {
	return int64(math.Round(v * 100))
}
