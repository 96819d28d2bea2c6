package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/api/util"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

// Allowed fields for activity queries and ordering
var (
	activityQueryFields = []string{"id", "event_type", "created_at"}
	activityOrderFields = []string{"id", "event_type", "created_at"}
)

type ActivityHandler struct {
	activityRepo repository.ActivityRepository
}

func NewActivityHandler(activityRepo repository.ActivityRepository) *ActivityHandler {
	return &ActivityHandler{activityRepo: activityRepo}
}

// ListActivity handles GET /activity
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	page, perPage, ok := pagination(c)
	if !ok {
		return
	}

	filter := repository.ActivityFilter{
		ListFilter: util.ListFilter{
			Page:    page,
			PerPage: perPage,
		},
	}

	filters, orders, err := util.ParseListQuery(c.Query("query"), c.Query("order"), activityQueryFields, activityOrderFields)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	filter.Filters = filters
	filter.Order = orders

	events, err := h.activityRepo.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	count, err := h.activityRepo.Count(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.ActivityListResponse{
		Items:      make([]dto.ActivityResponse, len(events)),
		Pagination: paginationInfo(count, page, perPage),
	}
	for i, event := range events {
		response.Items[i] = dto.ActivityResponse{
			ID:        event.ID,
			EventType: event.EventType,
			Metadata:  event.Metadata,
			CreatedAt: event.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, response)
}
