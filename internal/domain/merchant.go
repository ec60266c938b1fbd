package domain

import "time"

// Merchant — продавец, сайт которого мы опрашиваем.
type Merchant struct {
	ID        int64
	Name      string
	BaseURL   string
	CreatedAt time.Time
	UpdatedAt *time.Time
	IsActive  bool
}

func NewMerchant(name, baseURL string) *Merchant {
	return &Merchant{
		Name:    name,
		BaseURL: baseURL,
	}
}
