package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxnCredit TransactionType = "CREDIT"
	TxnDebit  TransactionType = "DEBIT"
)

func (t TransactionType) Valid() bool { return t == TxnCredit || t == TxnDebit }

// TransactionEvent is one audit record per load/authorization attempt.
// ResultingBalance is the balance after the operation, or the unchanged
// balance when Succeeded is false.
type TransactionEvent struct {
	EventID          uuid.UUID       `json:"event_id"`
	Timestamp        time.Time       `json:"timestamp"`
	AccountID        string          `json:"account_id"`
	TrackingID       string          `json:"tracking_id"`
	ResultingBalance decimal.Decimal `json:"resulting_balance"`
	Type             TransactionType `json:"transaction_type"`
	RequestedAmount  decimal.Decimal `json:"requested_amount"`
	Succeeded        bool            `json:"succeeded"`
}

func NewEvent(accountID, trackingID string, typ TransactionType, amount, resulting decimal.Decimal, ok bool) TransactionEvent {
	return TransactionEvent{
		EventID:          uuid.New(),
		Timestamp:        time.Now().UTC(),
		AccountID:        accountID,
		TrackingID:       trackingID,
		ResultingBalance: resulting,
		Type:             typ,
		RequestedAmount:  amount,
		Succeeded:        ok,
	}
}

// Validate mirrors the ledger_events column constraints for stores that
// have no schema of their own.
func (e TransactionEvent) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("invalid transaction type %q", e.Type)
	}
	if !e.RequestedAmount.IsPositive() {
		return fmt.Errorf("requested amount must be > 0, got %s", e.RequestedAmount)
	}
	return nil
}
