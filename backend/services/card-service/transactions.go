package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/common/api"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/pkg/transfer"
	"github.com/rfidpay/cardcore/backend/services/card-service/models"
)

func (s *Service) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AuthorizeRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	if req.CardID == "" {
		s.badRequest(w, r, "card_id is required")
		return
	}

	tx, err := s.ledger.Authorize(r.Context(), ledger.Request{
		CardID:    req.CardID,
		Type:      ledger.TxType(strings.ToUpper(string(req.Type))),
		Amount:    req.Amount,
		Direction: req.Direction,
		Metadata: ledger.Metadata{
			MerchantID:         req.MerchantID,
			MerchantName:       req.MerchantName,
			TerminalID:         req.TerminalID,
			CounterpartyCardID: req.CounterpartyCardID,
			Description:        req.Description,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeTransaction(w, r, tx)
}

func (s *Service) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	f, err := s.transactionFilter(r)
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.listTransactions(w, r, f)
}

func (s *Service) listTransactions(w http.ResponseWriter, r *http.Request, f ledger.TransactionFilter) {
	txs, err := s.ledger.ListTransactions(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*ledger.Transaction{}
	}
	api.WriteSuccess(w, http.StatusOK, models.TransactionList{Transactions: txs, Count: len(txs)})
}

func (s *Service) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.GetTransaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.canAccess(w, r, tx.CardID) {
		return
	}
	api.WriteSuccess(w, http.StatusOK, tx)
}

func (s *Service) RefundHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RefundRequest
	if r.ContentLength != 0 {
		if err := api.DecodeJSON(r, &req); err != nil {
			s.badRequest(w, r, err.Error())
			return
		}
	}
	tx, err := s.ledger.Refund(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeTransaction(w, r, tx)
}

// TransferHandler answers 200 only when both legs settled. A refused or
// reversed transfer is a 422 carrying every leg.
func (s *Service) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transfer.Request
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	if !s.canAccess(w, r, req.FromCardID) {
		return
	}

	res, err := s.transfers.Transfer(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	traceID := common.RequestID(r.Context())
	switch res.Status {
	case transfer.StatusCompleted:
		api.WriteSuccess(w, http.StatusOK, res)
	case transfer.StatusReversalFailed:
		s.logger.Error("transfer left unbalanced", "from", req.FromCardID, "to", req.ToCardID, "request_id", traceID)
		api.WriteErrorDetails(w, http.StatusInternalServerError, string(ledger.CodeInternalError),
			ledger.CodeInternalError.Message(), traceID, res)
	default:
		api.WriteErrorDetails(w, http.StatusUnprocessableEntity, string(res.Code), res.Code.Message(), traceID, res)
	}
}

func (s *Service) FeePreviewHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := strconv.ParseInt(q.Get("amount"), 10, 64)
	if err != nil || amount <= 0 {
		s.badRequest(w, r, "amount must be a positive integer")
		return
	}
	t := ledger.TypeAchat
	if v := q.Get("type"); v != "" {
		t = ledger.TxType(strings.ToUpper(v))
	}
	if !t.Valid() {
		s.badRequest(w, r, "unknown transaction type "+string(t))
		return
	}
	fee := s.ledger.PreviewFee(t, amount)
	api.WriteSuccess(w, http.StatusOK, models.FeePreview{Type: t, Amount: amount, Fee: fee, Total: amount + fee})
}

func (s *Service) DailyStatsHandler(w http.ResponseWriter, r *http.Request) {
	day := time.Now().In(s.loc)
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(time.DateOnly, v, s.loc)
		if err != nil {
			s.badRequest(w, r, "date must be YYYY-MM-DD")
			return
		}
		day = d
	}
	report, err := s.stats.Daily(r.Context(), day)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, report)
}
