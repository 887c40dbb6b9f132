package api

import (
	"net/http"

	"github.com/lnops/rebalance-orchestrator-go/model"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
)

type StatusProvider interface {
	Status() model.StatusReport
}

type Handler struct {
	log      *zap.Logger
	provider StatusProvider
}

func NewHandler(log *zap.Logger, provider StatusProvider) *Handler {
	return &Handler{log: log, provider: provider}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.provider.Status())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := sonnet.Marshal(v)
	if err != nil {
		h.log.Error("cannot encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.log.Debug("cannot write response", zap.Error(err))
	}
}
