// Package events carries the messages exchanged over RabbitMQ: repair requests
// that re-drive partially applied operations, and sale notifications.
package events

import "time"

// Operations that may be re-driven through the repair queue
const (
	OpSetVerification = "set_verification"
	OpMarkSold        = "mark_sold"
	OpDeleteProduct   = "delete_product"
	OpCompletePayment = "complete_payment"
)

// RepairRequest asks a worker to invoke Operation again with the same
// arguments. Only the fields relevant to the operation are set.
type RepairRequest struct {
	Operation     string    `json:"operation"`
	Email         string    `json:"email,omitempty"`
	ProductID     string    `json:"product_id,omitempty"`
	BookingID     string    `json:"booking_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Attempt       int       `json:"attempt"`
	RequestedAt   time.Time `json:"requested_at"`
}

// PaymentCompletedEvent is published once every step of a payment completed
type PaymentCompletedEvent struct {
	BookingID     string    `json:"booking_id"`
	ProductID     string    `json:"product_id"`
	BuyerEmail    string    `json:"buyer_email"`
	SellerEmail   string    `json:"seller_email"`
	TransactionID string    `json:"transaction_id"`
	Amount        float64   `json:"amount"`
	CompletedAt   time.Time `json:"completed_at"`
}
