package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalance is the authoritative current balance of one account, in USD.
type AccountBalance struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}
