package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/engine"
	"alpha-mirror/internal/lifecycle"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/registry"
)

// operator is the engine surface the HTTP endpoints drive.
type operator interface {
	AddWallet(addr string, role domain.WalletRole) (bool, error)
	RemoveWallet(addr string) (bool, error)
	PromoteWallet(addr string) (bool, error)
	ListWallets() []domain.AlphaWallet
	ForceBuy(ctx context.Context, mint string, sizeSOL float64) error
	ForceSell(mint string) error
	Status(ctx context.Context) engine.Status
}

var _ operator = (*engine.Engine)(nil)

func newMux(op operator, log logrus.FieldLogger) *http.ServeMux {
	if log == nil {
		log = logrus.StandardLogger()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, op.Status(r.Context()))
	})
	mux.HandleFunc("GET /wallets", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, op.ListWallets())
	})
	mux.HandleFunc("POST /wallets/add", func(w http.ResponseWriter, r *http.Request) {
		role := domain.WalletRole(r.URL.Query().Get("role"))
		if role == domain.RoleNone {
			role = domain.RoleCandidate
		}
		addr := r.URL.Query().Get("address")
		changed, err := op.AddWallet(addr, role)
		respondChange(w, log, "add wallet", changed, err)
	})
	mux.HandleFunc("POST /wallets/remove", func(w http.ResponseWriter, r *http.Request) {
		changed, err := op.RemoveWallet(r.URL.Query().Get("address"))
		respondChange(w, log, "remove wallet", changed, err)
	})
	mux.HandleFunc("POST /wallets/promote", func(w http.ResponseWriter, r *http.Request) {
		changed, err := op.PromoteWallet(r.URL.Query().Get("address"))
		respondChange(w, log, "promote wallet", changed, err)
	})
	mux.HandleFunc("POST /positions/buy", func(w http.ResponseWriter, r *http.Request) {
		mint := r.URL.Query().Get("mint")
		size, err := strconv.ParseFloat(r.URL.Query().Get("sol"), 64)
		if mint == "" || err != nil {
			writeError(w, http.StatusBadRequest, "mint and sol are required")
			return
		}
		if err := op.ForceBuy(r.Context(), mint, size); err != nil {
			respondErr(w, log, "force buy", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "bought", "mint": mint})
	})
	mux.HandleFunc("POST /positions/sell", func(w http.ResponseWriter, r *http.Request) {
		mint := r.URL.Query().Get("mint")
		if err := op.ForceSell(mint); err != nil {
			respondErr(w, log, "force sell", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "exit requested", "mint": mint})
	})

	return mux
}

func respondChange(w http.ResponseWriter, log logrus.FieldLogger, op string, changed bool, err error) {
	if err != nil {
		respondErr(w, log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}

func respondErr(w http.ResponseWriter, log logrus.FieldLogger, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidAddress),
		errors.Is(err, engine.ErrUnknownRole),
		errors.Is(err, engine.ErrInvalidSize):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrNotHeld):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error(op)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
