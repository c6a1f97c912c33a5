package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/rfidpay/cardcore/backend/pkg/common"
	"github.com/rfidpay/cardcore/backend/pkg/common/api"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/pkg/platform"
	"github.com/rfidpay/cardcore/backend/pkg/stats"
	"github.com/rfidpay/cardcore/backend/pkg/terminal"
	"github.com/rfidpay/cardcore/backend/pkg/transfer"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

var anyRole = []string{common.RoleAdmin, common.RoleOperator, common.RoleClient}

type Service struct {
	db        *sql.DB
	ledger    *ledger.Ledger
	transfers *transfer.Orchestrator
	stats     *stats.Reporter
	terminals *terminal.Registry
	loc       *time.Location
	secret    []byte
	logger    *slog.Logger
}

func NewService(p *platform.Platform, secret []byte, logger *slog.Logger) *Service {
	return &Service{
		db:        p.DB,
		ledger:    p.Ledger,
		transfers: p.Transfers,
		stats:     p.Stats,
		terminals: p.Terminals,
		loc:       p.Location,
		secret:    secret,
		logger:    logger,
	}
}

// Router wires every endpoint. Only /health and /fees/preview are public.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(common.RequestLogger(s.logger), common.Recoverer(s.logger))

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")
	r.HandleFunc("/fees/preview", s.FeePreviewHandler).Methods("GET")

	protected := r.PathPrefix("/").Subrouter()
	protected.Use(common.AuthMiddleware(s.secret))

	admin := []string{common.RoleAdmin}
	adminClient := []string{common.RoleAdmin, common.RoleClient}
	operator := []string{common.RoleOperator}

	protected.HandleFunc("/cards", common.RequireRole(s.IssueCardHandler, admin...)).Methods("POST")
	protected.HandleFunc("/cards/{id}", common.RequireRole(s.GetCardHandler, anyRole...)).Methods("GET")
	protected.HandleFunc("/cards/{id}/owner", common.RequireRole(s.AssignOwnerHandler, admin...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/activate", common.RequireRole(s.ActivateHandler, admin...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/block", common.RequireRole(s.BlockHandler, adminClient...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/unblock", common.RequireRole(s.UnblockHandler, admin...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/report", common.RequireRole(s.ReportHandler, adminClient...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/replacement", common.RequireRole(s.ReplacementHandler, admin...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/pin", common.RequireRole(s.ResetPINHandler, adminClient...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/reactivate", common.RequireRole(s.ReactivateHandler, adminClient...)).Methods("POST")
	protected.HandleFunc("/cards/{id}/limits", common.RequireRole(s.UpdateLimitsHandler, adminClient...)).Methods("PUT")
	protected.HandleFunc("/cards/{id}/transactions", common.RequireRole(s.CardTransactionsHandler, anyRole...)).Methods("GET")

	protected.HandleFunc("/transactions", common.RequireRole(s.AuthorizeHandler, common.RoleAdmin, common.RoleOperator)).Methods("POST")
	protected.HandleFunc("/transactions", common.RequireRole(s.ListTransactionsHandler, admin...)).Methods("GET")
	protected.HandleFunc("/transactions/{id}", common.RequireRole(s.GetTransactionHandler, anyRole...)).Methods("GET")
	protected.HandleFunc("/transactions/{id}/refund", common.RequireRole(s.RefundHandler, admin...)).Methods("POST")
	protected.HandleFunc("/transfers", common.RequireRole(s.TransferHandler, adminClient...)).Methods("POST")
	protected.HandleFunc("/stats/daily", common.RequireRole(s.DailyStatsHandler, admin...)).Methods("GET")

	protected.HandleFunc("/terminal/merchants", common.RequireRole(s.MerchantsHandler, operator...)).Methods("GET")
	protected.HandleFunc("/terminals/{tid}", common.RequireRole(s.TerminalStateHandler, operator...)).Methods("GET")
	protected.HandleFunc("/terminals/{tid}/present", common.RequireRole(s.PresentCardHandler, operator...)).Methods("POST")
	protected.HandleFunc("/terminals/{tid}/form", common.RequireRole(s.UpdateFormHandler, operator...)).Methods("PUT")
	protected.HandleFunc("/terminals/{tid}/confirm", common.RequireRole(s.ConfirmHandler, operator...)).Methods("POST")
	protected.HandleFunc("/terminals/{tid}/cancel", common.RequireRole(s.CancelTerminalHandler, operator...)).Methods("POST")
	protected.HandleFunc("/terminals/{tid}/reset", common.RequireRole(s.ResetTerminalHandler, operator...)).Methods("POST")

	return r
}

func (s *Service) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		api.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable", common.RequestID(r.Context()))
		return
	}
	api.WriteSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// canAccess answers 403 and returns false when the caller may not act on
// cardID.
func (s *Service) canAccess(w http.ResponseWriter, r *http.Request, cardID string) bool {
	claims, ok := common.ClaimsFromContext(r.Context())
	if ok && claims.CanAccessCard(cardID) {
		return true
	}
	api.WriteError(w, http.StatusForbidden, "FORBIDDEN", "card is not accessible to this account", common.RequestID(r.Context()))
	return false
}

// parseDay accepts YYYY-MM-DD in the service timezone or RFC 3339.
func (s *Service) parseDay(v string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, v, s.loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return t, nil
}

// transactionFilter reads type, status, from, to and limit query
// parameters. A date-only "to" includes the whole day.
func (s *Service) transactionFilter(r *http.Request) (ledger.TransactionFilter, error) {
	q := r.URL.Query()
	f := ledger.TransactionFilter{
		CardID: q.Get("card_id"),
		Type:   ledger.TxType(strings.ToUpper(q.Get("type"))),
		Status: ledger.TxStatus(strings.ToUpper(q.Get("status"))),
		Limit:  defaultPageSize,
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, fmt.Errorf("invalid type %q", f.Type)
	}
	if v := q.Get("from"); v != "" {
		t, err := s.parseDay(v)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := s.parseDay(v)
		if err != nil {
			return f, err
		}
		if len(v) == len(time.DateOnly) {
			t = t.AddDate(0, 0, 1)
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(n, maxPageSize)
	}
	return f, nil
}
