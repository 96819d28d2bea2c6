package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/service"
)

type RetentionHandler struct {
	engine *service.Engine
}

func NewRetentionHandler(engine *service.Engine) *RetentionHandler {
	return &RetentionHandler{engine: engine}
}

// Sweep handles POST /retention/sweep
func (h *RetentionHandler) Sweep(c *gin.Context) {
	result, err := h.engine.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SweepResponse{
		Deleted: nonNil(result.Deleted),
		Expired: nonNil(result.Expired),
		Purged:  nonNil(result.Purged),
	})
}
