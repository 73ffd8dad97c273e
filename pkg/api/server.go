// Package api exposes the small local HTTP surface for status inspection and
// manual sync triggers. It is a foreground caller of the same services the
// background scheduler drives.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pocketsync/pocketsync/db"
	"github.com/pocketsync/pocketsync/pkg/models"
	"github.com/pocketsync/pocketsync/pkg/services"
)

type Server struct {
	store     db.Store
	scheduler *services.Scheduler
	onboarder *services.Onboarder
}

func NewServer(store db.Store, scheduler *services.Scheduler, onboarder *services.Onboarder) *Server {
	return &Server{store: store, scheduler: scheduler, onboarder: onboarder}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Route("/accounts/{provider}/{id}", func(r chi.Router) {
			r.Post("/sync", s.handleSyncNow)
			r.Post("/teardown", s.handleTeardown)
			r.Get("/transactions", s.handleTransactions)
		})
	})
	return r
}

type connectionStatus struct {
	Provider  string     `json:"provider"`
	Valid     bool       `json:"valid"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
	Scheduled []string   `json:"scheduledTimes,omitempty"`
}

type accountStatus struct {
	ExternalID      string `json:"externalId"`
	Provider        string `json:"provider"`
	Name            string `json:"name"`
	PocketID        string `json:"pocketId,omitempty"`
	Balance         string `json:"balance"`
	Batching        string `json:"batching"`
	TeardownPending bool   `json:"teardownPending,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.GetTrackedAccounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := struct {
		Connections []connectionStatus `json:"connections"`
		Accounts    []accountStatus    `json:"accounts"`
	}{
		Connections: []connectionStatus{},
		Accounts:    []accountStatus{},
	}

	for _, provider := range []models.AggregatorKind{models.AggregatorSimpleFin, models.AggregatorLunchFlow} {
		state, err := s.store.GetSyncState(provider)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if state == nil {
			continue
		}
		resp.Connections = append(resp.Connections, connectionStatus{
			Provider:  string(state.Provider),
			Valid:     state.Valid,
			LastSync:  state.LastSync,
			Scheduled: state.Schedule.DailyTimes,
		})
	}

	for _, account := range accounts {
		resp.Accounts = append(resp.Accounts, accountStatus{
			ExternalID:      account.ExternalID,
			Provider:        string(account.Provider),
			Name:            account.Name,
			PocketID:        account.PocketID,
			Balance:         account.LastBalance.StringFixed(2),
			Batching:        string(account.Batching),
			TeardownPending: account.TeardownPending,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	provider := models.AggregatorKind(chi.URLParam(r, "provider"))
	id := chi.URLParam(r, "id")

	newCount, err := s.scheduler.SyncAccount(r.Context(), provider, id)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"newTransactions": newCount,
	})
}

func (s *Server) handleTeardown(w http.ResponseWriter, r *http.Request) {
	provider := models.AggregatorKind(chi.URLParam(r, "provider"))
	id := chi.URLParam(r, "id")

	if err := s.onboarder.StopTracking(r.Context(), provider, id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	provider := models.AggregatorKind(chi.URLParam(r, "provider"))
	id := chi.URLParam(r, "id")

	transactions, err := s.store.GetTransactionsForAccount(provider, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if transactions == nil {
		transactions = []*models.ExternalTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": transactions})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
