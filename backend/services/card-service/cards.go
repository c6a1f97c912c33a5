package main

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/common/api"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
	"github.com/rfidpay/cardcore/backend/services/card-service/models"
)

func (s *Service) IssueCardHandler(w http.ResponseWriter, r *http.Request) {
	var req models.IssueCardRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}

	issue := ledger.IssueRequest{
		CodeUID:        req.CodeUID,
		NumeroSerie:    req.NumeroSerie,
		Type:           req.Type,
		Owner:          req.Owner,
		ExpirationDate: req.ExpirationDate,
	}
	if req.Type == "" {
		issue.Type = card.TypeStandard
	}
	// Any explicit ceiling replaces the type defaults, so all three must be set.
	if req.DailyLimit > 0 || req.MonthlyLimit > 0 || req.MaxBalance > 0 {
		issue.Ceilings = &card.Ceilings{
			DailyLimit:   req.DailyLimit,
			MonthlyLimit: req.MonthlyLimit,
			MaxBalance:   req.MaxBalance,
		}
	}

	c, err := s.ledger.IssueCard(r.Context(), issue)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusCreated, s.view(c))
}

func (s *Service) GetCardHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	c, err := s.ledger.GetCard(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, s.view(c))
}

func (s *Service) AssignOwnerHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OwnerRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondCard(w, r)(s.ledger.AssignOwner(r.Context(), mux.Vars(r)["id"], card.Owner{Kind: req.Kind, ID: req.ID}))
}

func (s *Service) ActivateHandler(w http.ResponseWriter, r *http.Request) {
	s.respondCard(w, r)(s.ledger.ActivateCard(r.Context(), mux.Vars(r)["id"]))
}

func (s *Service) BlockHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	var req models.BlockRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondCard(w, r)(s.ledger.BlockCard(r.Context(), id, req.Reason))
}

func (s *Service) UnblockHandler(w http.ResponseWriter, r *http.Request) {
	s.respondCard(w, r)(s.ledger.UnblockCard(r.Context(), mux.Vars(r)["id"]))
}

func (s *Service) ReportHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	var req models.ReportRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondCard(w, r)(s.ledger.ReportLostOrStolen(r.Context(), id, req.Kind, req.Circumstances))
}

func (s *Service) ReplacementHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ReplacementRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	c, err := s.ledger.IssueReplacement(r.Context(), mux.Vars(r)["id"], ledger.ReplacementRequest{
		CodeUID:     req.CodeUID,
		NumeroSerie: req.NumeroSerie,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusCreated, s.view(c))
}

func (s *Service) ResetPINHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	var req models.PINRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondCard(w, r)(s.ledger.ResetPIN(r.Context(), id, req.PIN))
}

func (s *Service) ReactivateHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	var req models.PINRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondCard(w, r)(s.ledger.ReactivateCard(r.Context(), id, req.PIN))
}

func (s *Service) UpdateLimitsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	var req models.LimitsRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondCard(w, r)(s.ledger.UpdateLimits(r.Context(), id, req.DailyLimit, req.MonthlyLimit))
}

func (s *Service) CardTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.canAccess(w, r, id) {
		return
	}
	f, err := s.transactionFilter(r)
	if err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	f.CardID = id
	if _, err := s.ledger.GetCard(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.listTransactions(w, r, f)
}

// respondCard adapts a ledger card operation to a 200 or an error response.
func (s *Service) respondCard(w http.ResponseWriter, r *http.Request) func(*card.Card, error) {
	return func(c *card.Card, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		api.WriteSuccess(w, http.StatusOK, s.view(c))
	}
}

func (s *Service) view(c *card.Card) models.CardView {
	daily, monthly := s.ledger.Remaining(c)
	return models.CardView{Card: c, RemainingDaily: daily, RemainingMonthly: monthly}
}
