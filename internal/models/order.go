package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID is a backend identifier. The backend serializes ids as numbers on some
// endpoints and as strings on others; ID accepts both.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

type PaymentMethod string

const (
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodSnap         PaymentMethod = "SNAP"
)

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentMethodBankTransfer:
		return PaymentMethodBankTransfer, nil
	case PaymentMethodSnap, "GATEWAY":
		return PaymentMethodSnap, nil
	default:
		return "", fmt.Errorf("unsupported payment method %q", raw)
	}
}

// IsGateway reports whether payment is completed on an external redirect page.
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentMethodSnap
}

type Location struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

type Address struct {
	ID        ID       `json:"id"`
	Label     string   `json:"label,omitempty"`
	Province  Location `json:"province"`
	City      Location `json:"city"`
	District  Location `json:"district"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	IsDefault bool     `json:"isDefault"`
}

type ShippingOption struct {
	Courier     string `json:"courier"`
	Service     string `json:"service"`
	Description string `json:"description"`
	Cost        int64  `json:"cost"`
	ETD         string `json:"etd"`
}

// Shipment is the shipping snapshot embedded in an order.
type Shipment struct {
	Courier string `json:"courier"`
	Service string `json:"service"`
	Cost    int64  `json:"shipping_cost"`
	Days    string `json:"shipping_days"`
}

func ShipmentFromOption(option ShippingOption) Shipment {
	return Shipment{
		Courier: option.Courier,
		Service: option.Service,
		Cost:    option.Cost,
		Days:    option.ETD,
	}
}

type OrderItem struct {
	ProductID   ID     `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Subtotal    int64  `json:"subtotal"`
}

type Buyer struct {
	Name    string   `json:"name"`
	Phone   string   `json:"phone"`
	Email   string   `json:"email,omitempty"`
	Address *Address `json:"address,omitempty"`
}

type Order struct {
	ID            ID            `json:"id"`
	StoreID       ID            `json:"storeId"`
	Status        OrderStatus   `json:"status"`
	Items         []OrderItem   `json:"items"`
	Subtotal      int64         `json:"subtotal"`
	Discount      int64         `json:"discount"`
	ShipmentCost  int64         `json:"shipmentCost"`
	FinalPrice    int64         `json:"finalPrice"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentProof  *string       `json:"paymentProof"`
	Shipment      *Shipment     `json:"shipment,omitempty"`
	Buyer         Buyer         `json:"buyer"`
	CreatedAt     time.Time     `json:"createdAt"`
	ExpiredAt     *time.Time    `json:"expiredAt"`
}

// Path is the storefront route of the order detail view.
func (o *Order) Path() string {
	return "/orders/" + o.ID.String()
}

// AwaitingProof reports whether the buyer still has to upload a transfer receipt.
func (o *Order) AwaitingProof() bool {
	return o.Status == StatusWaitingForPayment &&
		o.PaymentMethod == PaymentMethodBankTransfer &&
		o.ExpiredAt != nil
}

type CartItem struct {
	ProductID   ID     `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	Subtotal    int64  `json:"subtotal"`
	WeightGrams int    `json:"weight"`
}

// Cart is the read-only snapshot checkout consumes. The cart subsystem owns it.
type Cart struct {
	StoreID          ID         `json:"storeId"`
	OriginDistrictID ID         `json:"originDistrictId"`
	Items            []CartItem `json:"items"`
	TotalWeightGrams int        `json:"totalWeight"`
}

// ShippingWeight returns the total weight in grams, falling back to the sum of
// item weights when the backend leaves the total empty.
func (c *Cart) ShippingWeight() int {
	if c.TotalWeightGrams > 0 {
		return c.TotalWeightGrams
	}
	total := 0
	for _, item := range c.Items {
		total += item.WeightGrams * item.Quantity
	}
	return total
}

type Profile struct {
	ID    ID     `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Role  string `json:"role,omitempty"`
}

// CheckoutRequest is the order creation payload.
type CheckoutRequest struct {
	StoreID       ID            `json:"storeId"`
	CouponCodes   []string      `json:"couponCodes"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Shipment      Shipment      `json:"shipment"`
	AddressID     ID            `json:"addressId,omitempty"`
}

type StatusLogEntry struct {
	ID         ID          `json:"id"`
	OrderID    ID          `json:"orderId"`
	FromStatus OrderStatus `json:"fromStatus"`
	ToStatus   OrderStatus `json:"toStatus"`
	Actor      string      `json:"actor"`
	Note       string      `json:"note,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// ProofImage is a staged proof-of-payment upload.
type ProofImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// OrderFilter narrows order list queries.
type OrderFilter struct {
	OrderID   string
	StartDate time.Time
	EndDate   time.Time
	Status    string
	StoreID   string
	Page      int
	Limit     int
}
