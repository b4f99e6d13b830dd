package models

import "strings"

// OrderStatus is the canonical tri-state every downstream consumer sees.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusCancelled:
		return true
	}
	return false
}

// MapUpstreamStatus folds the ordering surface's status vocabulary into the
// canonical tri-state. The table is total: every upstream value lands on
// exactly one canonical status, and unknown vocabulary defaults to pending so
// a new upstream state never makes an order disappear from the open list.
func MapUpstreamStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirmed", "active", "paused":
		return OrderStatusPending
	case "delivered":
		return OrderStatusCompleted
	case "cancelled":
		return OrderStatusCancelled
	case string(OrderStatusPending):
		return OrderStatusPending
	case string(OrderStatusCompleted):
		return OrderStatusCompleted
	default:
		return OrderStatusPending
	}
}

type PaymentType string

const (
	PaymentTypeOnline  PaymentType = "online"
	PaymentTypeOffline PaymentType = "offline"
)

func (t PaymentType) Valid() bool {
	return t == PaymentTypeOnline || t == PaymentTypeOffline
}

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusPending   PaymentStatus = "pending"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusPending
}

// transactionStatusCompleted reports whether a payment transaction sub-object
// status means the money actually moved. Payment confirmation is
// authoritative over delivery-status vocabulary.
func transactionStatusCompleted(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "success", "successful", "paid":
		return true
	}
	return false
}
