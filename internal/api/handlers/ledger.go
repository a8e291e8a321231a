package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/bank-ledger/internal/api/httpx"
	"github.com/baharkarakas/bank-ledger/internal/api/validate"
	"github.com/baharkarakas/bank-ledger/internal/currency"
	"github.com/baharkarakas/bank-ledger/internal/ledger"
	"github.com/baharkarakas/bank-ledger/internal/middleware"
	"github.com/baharkarakas/bank-ledger/internal/models"
)

// Ledger is the subset of *ledger.Engine the handlers call.
type Ledger interface {
	Load(ctx context.Context, accountID, trackingID string, amount decimal.Decimal) (ledger.Result, error)
	Authorize(ctx context.Context, accountID, trackingID string, amount decimal.Decimal) (ledger.Result, error)
}

// Runner runs fn and waits for it or for ctx, whichever comes first.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

type LedgerHandler struct {
	Ledger    Ledger
	Runner    Runner
	Converter *currency.Converter
	Validator *validate.Validator
	Log       *slog.Logger
}

func NewLedgerHandler(l Ledger, r Runner, c *currency.Converter, log *slog.Logger) *LedgerHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerHandler{Ledger: l, Runner: r, Converter: c, Validator: validate.New(), Log: log}
}

type amountDTO struct {
	Amount        string `json:"amount" validate:"notblank"`
	Currency      string `json:"currency" validate:"notblank,max=3"`
	DebitOrCredit string `json:"debitOrCredit" validate:"required,oneof=CREDIT DEBIT"`
}

type transactionReq struct {
	UserID            string    `json:"userId" validate:"notblank"`
	MessageID         string    `json:"messageId" validate:"notblank"`
	TransactionAmount amountDTO `json:"transactionAmount"`
}

type loadResp struct {
	UserID    string    `json:"userId"`
	MessageID string    `json:"messageId"`
	Balance   amountDTO `json:"balance"`
}

type authorizationResp struct {
	UserID       string         `json:"userId"`
	MessageID    string         `json:"messageId"`
	ResponseCode ledger.Outcome `json:"responseCode"`
	Balance      amountDTO      `json:"balance"`
}

// Load handles PUT /load.
func (h *LedgerHandler) Load(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decode(w, r, models.TxnCredit)
	if !ok {
		return
	}

	var (
		res ledger.Result
		err error
	)
	if runErr := h.Runner.Do(r.Context(), func() {
		res, err = h.Ledger.Load(r.Context(), req.UserID, req.MessageID, amount)
	}); runErr != nil {
		h.timeout(w, r, req, runErr)
		return
	}
	if err != nil {
		h.fault(w, r, req, err, "Failed to Load the Balance.")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, loadResp{
		UserID:    req.UserID,
		MessageID: req.MessageID,
		Balance:   balanceDTO(res.Balance, models.TxnCredit),
	})
}

// Authorize handles PUT /authorization. A decline is a 201 with
// responseCode DECLINED and the unchanged balance.
func (h *LedgerHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := h.decode(w, r, models.TxnDebit)
	if !ok {
		return
	}

	var (
		res ledger.Result
		err error
	)
	if runErr := h.Runner.Do(r.Context(), func() {
		res, err = h.Ledger.Authorize(r.Context(), req.UserID, req.MessageID, amount)
	}); runErr != nil {
		h.timeout(w, r, req, runErr)
		return
	}
	if err != nil {
		h.fault(w, r, req, err, "Failed to Authorize the Transaction.")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, authorizationResp{
		UserID:       req.UserID,
		MessageID:    req.MessageID,
		ResponseCode: res.Outcome,
		Balance:      balanceDTO(res.Balance, models.TxnDebit),
	})
}

// decode parses and validates the body and returns the amount in USD.
// On failure it has already written the 400.
func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, want models.TransactionType) (transactionReq, decimal.Decimal, bool) {
	var req transactionReq
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return req, decimal.Zero, false
	}

	if err := h.Validator.Struct(req); err != nil {
		var errs validate.Errs
		if errors.As(err, &errs) {
			httpx.WriteError(w, http.StatusBadRequest, "validation_error", "invalid request", errs)
		} else {
			httpx.WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		}
		return req, decimal.Zero, false
	}

	var errs validate.Errs
	ta := req.TransactionAmount
	if models.TransactionType(ta.DebitOrCredit) != want {
		errs = append(errs, validate.ErrField{
			Field: "transactionAmount.debitOrCredit",
			Msg:   "must be " + string(want) + " for this endpoint",
		})
	}
	amount, err := currency.ParseAmount(ta.Amount)
	switch {
	case err != nil:
		errs = append(errs, validate.ErrField{Field: "transactionAmount.amount", Msg: "must be a decimal number"})
	case !amount.IsPositive():
		errs = append(errs, validate.ErrField{Field: "transactionAmount.amount", Msg: "must be > 0"})
	}
	if !h.Converter.Supports(ta.Currency) {
		errs = append(errs, validate.ErrField{Field: "transactionAmount.currency", Msg: "unsupported currency"})
	}
	if len(errs) > 0 {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "invalid request", errs)
		return req, decimal.Zero, false
	}

	usd, err := h.Converter.ToUSD(amount, ta.Currency)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return req, decimal.Zero, false
	}
	return req, usd, true
}

func (h *LedgerHandler) fault(w http.ResponseWriter, r *http.Request, req transactionReq, err error, msg string) {
	h.Log.Error("ledger request failed",
		"request_id", middleware.RequestIDFrom(r.Context()),
		"user_id", req.UserID,
		"message_id", req.MessageID,
		"err", err,
	)
	httpx.WriteServerError(w, http.StatusInternalServerError, "INTERNAL_EXCEPTION", msg)
}

// timeout answers a caller that stopped waiting. The operation itself
// keeps running on the pool and its outcome is in the event log.
func (h *LedgerHandler) timeout(w http.ResponseWriter, r *http.Request, req transactionReq, err error) {
	h.Log.Warn("ledger request abandoned by caller",
		"request_id", middleware.RequestIDFrom(r.Context()),
		"user_id", req.UserID,
		"message_id", req.MessageID,
		"err", err,
	)
	httpx.WriteServerError(w, http.StatusServiceUnavailable, "TIMEOUT", "request ended before the ledger replied")
}

func balanceDTO(bal decimal.Decimal, typ models.TransactionType) amountDTO {
	return amountDTO{
		Amount:        currency.Format(bal),
		Currency:      currency.USD,
		DebitOrCredit: string(typ),
	}
}
