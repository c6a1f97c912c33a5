package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/common/api"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/pkg/limits"
	"github.com/rfidpay/cardcore/backend/pkg/terminal"
	"github.com/rfidpay/cardcore/backend/pkg/transfer"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order with errors.Is.
var errorMappings = []errorMapping{
	{ledger.ErrCardNotFound, http.StatusNotFound, string(ledger.CodeCardNotFound)},
	{ledger.ErrTransactionNotFound, http.StatusNotFound, "TRANSACTION_NOT_FOUND"},

	{card.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{card.ErrNoOwner, http.StatusConflict, "NO_OWNER"},
	{card.ErrPINNotSet, http.StatusConflict, "PIN_NOT_SET"},
	{ledger.ErrDuplicateCard, http.StatusConflict, "DUPLICATE_CARD"},
	{ledger.ErrNotRefundable, http.StatusConflict, "NOT_REFUNDABLE"},
	{ledger.ErrAlreadyRefunded, http.StatusConflict, "ALREADY_REFUNDED"},
	{ledger.ErrNotReplaceable, http.StatusConflict, "NOT_REPLACEABLE"},
	{ledger.ErrAlreadyReplaced, http.StatusConflict, "ALREADY_REPLACED"},
	{ledger.ErrConcurrentModification, http.StatusConflict, string(ledger.CodeConcurrentModification)},
	{limits.ErrLimitBelowUsage, http.StatusConflict, "LIMIT_BELOW_USAGE"},
	{terminal.ErrInvalidState, http.StatusConflict, "INVALID_TERMINAL_STATE"},
	{terminal.ErrCannotCancel, http.StatusConflict, "CANNOT_CANCEL"},

	{card.ErrPINMismatch, http.StatusForbidden, "PIN_MISMATCH"},

	{ledger.ErrInvalidCard, http.StatusBadRequest, "INVALID_CARD"},
	{card.ErrInvalidType, http.StatusBadRequest, "INVALID_CARD_TYPE"},
	{card.ErrInvalidOwner, http.StatusBadRequest, "INVALID_OWNER"},
	{card.ErrReasonRequired, http.StatusBadRequest, "REASON_REQUIRED"},
	{card.ErrInvalidLossKind, http.StatusBadRequest, "INVALID_LOSS_KIND"},
	{card.ErrInvalidPIN, http.StatusBadRequest, "INVALID_PIN"},
	{limits.ErrInvalidLimits, http.StatusBadRequest, "INVALID_LIMITS"},
	{ledger.ErrUnknownType, http.StatusBadRequest, "INVALID_TRANSACTION_TYPE"},
	{ledger.ErrUnlinkedRefund, http.StatusBadRequest, "REFUND_REQUIRES_ORIGINAL"},
	{ledger.ErrInvalidAmount, http.StatusBadRequest, string(ledger.CodeInvalidAmount)},
	{transfer.ErrSameCard, http.StatusBadRequest, "SAME_CARD"},
	{transfer.ErrInvalidAmount, http.StatusBadRequest, string(ledger.CodeInvalidAmount)},
	{terminal.ErrInvalidAmount, http.StatusBadRequest, string(ledger.CodeInvalidAmount)},
	{terminal.ErrMerchantRequired, http.StatusBadRequest, "MERCHANT_REQUIRED"},
	{terminal.ErrUnknownMerchant, http.StatusBadRequest, "UNKNOWN_MERCHANT"},
	{terminal.ErrUnsupportedType, http.StatusBadRequest, "INVALID_TRANSACTION_TYPE"},
}

func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, string(ledger.CodeInternalError)
}

// writeError maps a domain error to its HTTP status. Internal errors are
// logged and their text is not sent to the caller.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	traceID := common.RequestID(r.Context())
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err, "request_id", traceID)
		msg = ledger.CodeInternalError.Message()
	} else {
		s.logger.Debug("request rejected", slog.String("code", code), slog.Any("error", err))
	}
	api.WriteError(w, status, code, msg, traceID)
}

func (s *Service) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	api.WriteError(w, http.StatusBadRequest, "INVALID_REQUEST", msg, common.RequestID(r.Context()))
}

// writeTransaction answers with the ledger's verdict: 200 for VALIDEE, 422
// carrying the journaled record for anything else.
func writeTransaction(w http.ResponseWriter, r *http.Request, tx *ledger.Transaction) {
	if tx.Status == ledger.StatusValidee {
		api.WriteSuccess(w, http.StatusOK, tx)
		return
	}
	api.WriteErrorDetails(w, http.StatusUnprocessableEntity, string(tx.ErrorCode), tx.ErrorCode.Message(),
		common.RequestID(r.Context()), tx)
}
