package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rfidpay/cardcore/backend/pkg/common/api"
	"github.com/rfidpay/cardcore/backend/pkg/terminal"
	"github.com/rfidpay/cardcore/backend/services/card-service/models"
)

// maxConfirmWait bounds how long confirm?wait=true holds the request open.
const maxConfirmWait = 30 * time.Second

func (s *Service) MerchantsHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccess(w, http.StatusOK, models.MerchantList{Merchants: s.terminals.Merchants().List()})
}

func (s *Service) session(r *http.Request) *terminal.Session {
	return s.terminals.Session(mux.Vars(r)["tid"])
}

func (s *Service) TerminalStateHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccess(w, http.StatusOK, s.session(r).Snapshot())
}

func (s *Service) PresentCardHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PresentCardRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	if req.CardID == "" {
		s.badRequest(w, r, "card_id is required")
		return
	}
	s.respondTerminal(w, r)(s.session(r).PresentCard(r.Context(), req.CardID))
}

func (s *Service) UpdateFormHandler(w http.ResponseWriter, r *http.Request) {
	var form terminal.Form
	if err := api.DecodeJSON(r, &form); err != nil {
		s.badRequest(w, r, err.Error())
		return
	}
	s.respondTerminal(w, r)(s.session(r).UpdateForm(form))
}

// ConfirmHandler dispatches the form. With ?wait=true it also waits for the
// ledger outcome (or the terminal timeout) before answering.
func (s *Service) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	sess := s.session(r)
	snap, err := sess.Confirm()
	if err != nil || r.URL.Query().Get("wait") != "true" {
		s.respondTerminal(w, r)(snap, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), maxConfirmWait)
	defer cancel()
	s.respondTerminal(w, r)(sess.Await(ctx))
}

func (s *Service) CancelTerminalHandler(w http.ResponseWriter, r *http.Request) {
	s.respondTerminal(w, r)(s.session(r).Cancel())
}

func (s *Service) ResetTerminalHandler(w http.ResponseWriter, r *http.Request) {
	s.respondTerminal(w, r)(s.session(r).Reset())
}

func (s *Service) respondTerminal(w http.ResponseWriter, r *http.Request) func(terminal.Snapshot, error) {
	return func(snap terminal.Snapshot, err error) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		api.WriteSuccess(w, http.StatusOK, snap)
	}
}
