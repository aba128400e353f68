package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
	"github.com/davicafu/outboxlab/pkg/utils"
)

// StatusCounter es lo que necesitamos del repositorio del outbox.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[outboxDomain.Status]int64, error)
}

// OpsHandler expone salud y estado del outbox.
type OpsHandler struct {
	outbox StatusCounter
}

func NewOpsHandler(outbox StatusCounter) *OpsHandler {
	return &OpsHandler{outbox: outbox}
}

// Health endpoint GET /health
func (h *OpsHandler) Health(c *gin.Context) {
	utils.SendSuccess(c, http.StatusOK, gin.H{"status": "ok"})
}

// OutboxStats endpoint GET /outbox/stats
func (h *OpsHandler) OutboxStats(c *gin.Context) {
	counts, err := h.outbox.CountByStatus(c.Request.Context())
	if err != nil {
		utils.SendServiceUnavailable(c, err.Error())
		return
	}

	out := gin.H{}
	for _, s := range []outboxDomain.Status{outboxDomain.StatusPending, outboxDomain.StatusPublished, outboxDomain.StatusFailed} {
		out[s.String()] = counts[s]
	}
	utils.SendSuccess(c, http.StatusOK, out)
}
