package models

// CustomerProfile is the stored default contact data linked to an order by
// the upstream surface. It is an optional input to normalization and always
// wins over order-embedded contact fields.
type CustomerProfile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Phone          string `json:"phone"`
	DefaultAddress string `json:"defaultAddress"`
	LocationLink   string `json:"locationLink,omitempty"`
}
