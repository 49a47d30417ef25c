package validation

// Item represents a single order line item.
type Item struct {
	ItemID    string  `json:"itemId" validate:"required,max=128"`
	Name      string  `json:"name" validate:"required,max=256"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`           // price per unit
	Quantity  int     `json:"quantity" validate:"required,min=1"` // must be >= 1
}

// SubmitOrderRequest is the payload the checkout collaborator submits.
type SubmitOrderRequest struct {
	CustomerID          string  `json:"customerId" validate:"required,entityid"`
	ShopID              string  `json:"shopId" validate:"required,entityid"`
	Items               []Item  `json:"items" validate:"required,min=1,dive"` // at least one item
	TotalAmount         float64 `json:"totalAmount" validate:"gte=0"`         // must equal the items sum
	PaymentMethod       string  `json:"paymentMethod" validate:"max=64"`
	PickupOption        string  `json:"pickupOption" validate:"max=64"`
	SpecialInstructions string  `json:"specialInstructions" validate:"max=1000"`
}

// StatusChangeRequest is the body of POST /orders/:id/status.
type StatusChangeRequest struct {
	Status         string `json:"status" validate:"required"`
	ExpectedStatus string `json:"expectedStatus"`
	Actor          string `json:"actor" validate:"omitempty,oneof=vendor customer"`
	CustomerID     string `json:"customerId" validate:"required_if=Actor customer,omitempty,entityid"`
}
