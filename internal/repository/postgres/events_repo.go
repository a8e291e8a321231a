package postgres

import (
	"context"

	"github.com/baharkarakas/bank-ledger/internal/models"
)

type eventsRepo struct{ q querier }

func (r *eventsRepo) Append(ctx context.Context, e models.TransactionEvent) error {
	_, err := r.q.Exec(ctx,
		`INSERT INTO ledger_events(
		   event_id, account_id, tracking_id, transaction_type,
		   requested_amount, resulting_balance, succeeded, created_at
		 ) VALUES ($1::uuid, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)`,
		e.EventID.String(), e.AccountID, e.TrackingID, string(e.Type),
		e.RequestedAmount.String(), e.ResultingBalance.String(), e.Succeeded, e.Timestamp,
	)
	return err
}
