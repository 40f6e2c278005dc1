package models

import "time"

// Conversation links a customer to a business. Booking context
// (services, appointments) lives in other services; this one only
// carries the messaging side.
type Conversation struct {
	ID         string    `db:"id" json:"id"`
	CustomerID string    `db:"customer_id" json:"customer_id"`
	BusinessID string    `db:"business_id" json:"business_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Participants returns both member ids.
func (c Conversation) Participants() []string {
	return []string{c.CustomerID, c.BusinessID}
}
