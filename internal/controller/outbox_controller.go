package controller

import (
	"net/http"

	"github.com/cassiomorais/eventrelay/internal/domain/outbox"
)

// StatsObserver is notified with every stats read, e.g. to refresh a gauge.
type StatsObserver interface {
	SetBacklog(s outbox.Stats)
}

type OutboxController struct {
	stats    outbox.StatsReader
	observer StatsObserver
}

func NewOutboxController(stats outbox.StatsReader, observer StatsObserver) *OutboxController {
	return &OutboxController{stats: stats, observer: observer}
}

func (h *OutboxController) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.stats.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.observer != nil {
		h.observer.SetBacklog(s)
	}
	writeJSON(w, http.StatusOK, s)
}
