package health

import (
	"context"
	"net/http"
	"time"

	"github.com/hilthontt/parley/internal/infrastructure/json"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ConnectionCounter interface {
	Len() int
}

type Handler struct {
	store       Pinger
	connections ConnectionCounter
}

func NewHandler(store Pinger, connections ConnectionCounter) *Handler {
	return &Handler{
		store:       store,
		connections: connections,
	}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	data := healthResponse{
		Status:      "ok",
		Storage:     "ok",
		Connections: h.connections.Len(),
		Timestamp:   time.Now().UTC(),
	}

	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		data.Status = "degraded"
		data.Storage = err.Error()
		status = http.StatusServiceUnavailable
	}

	json.Write(w, status, data)
}
