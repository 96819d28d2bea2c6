package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/core/service"
)

type RestoreHandler struct {
	engine *service.Engine
}

func NewRestoreHandler(engine *service.Engine) *RestoreHandler {
	return &RestoreHandler{engine: engine}
}

// CreateRestore handles POST /restores. The restore runs inside the request;
// a restore that replaced some collections before failing answers 207 with
// the per-collection outcome.
func (h *RestoreHandler) CreateRestore(c *gin.Context) {
	var req dto.CreateRestoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	restoreRecords := true
	if req.RestoreRecords != nil {
		restoreRecords = *req.RestoreRecords
	}

	result, err := h.engine.RestoreFromBackup(c.Request.Context(), domain.RestoreRequest{
		BackupID:          req.BackupID,
		RestoreRecords:    restoreRecords,
		RestoreFiles:      req.RestoreFiles,
		TargetCollections: req.TargetCollections,
		ConfirmOverwrite:  req.ConfirmOverwrite,
	})

	var partial *domain.PartialFailureError
	switch {
	case errors.As(err, &partial) && result != nil:
		response := toRestoreResponse(result)
		response.SkippedCollections = partial.Skipped
		c.JSON(http.StatusMultiStatus, response)
	case err != nil:
		respondError(c, err)
	default:
		c.JSON(http.StatusOK, toRestoreResponse(result))
	}
}

// GetRestore handles GET /restores/:id
func (h *RestoreHandler) GetRestore(c *gin.Context) {
	restore, err := h.engine.GetRestore(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRestoreResponse(restore))
}

// ListRestores handles GET /restores, optionally narrowed by ?backup_id=
func (h *RestoreHandler) ListRestores(c *gin.Context) {
	page, perPage, ok := pagination(c)
	if !ok {
		return
	}

	filter := repository.RestoreFilter{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	if backupID := c.Query("backup_id"); backupID != "" {
		filter.BackupID = &backupID
	}

	restores, total, err := h.engine.ListRestores(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.RestoreListResponse{
		Items:      make([]dto.RestoreResponse, len(restores)),
		Pagination: paginationInfo(total, page, perPage),
	}
	for i, restore := range restores {
		response.Items[i] = toRestoreResponse(restore)
	}

	c.JSON(http.StatusOK, response)
}

func toRestoreResponse(restore *domain.RestoreResult) dto.RestoreResponse {
	return dto.RestoreResponse{
		ID:                  restore.ID,
		BackupID:            restore.BackupID,
		Status:              string(restore.Status),
		RestoredCollections: nonNil(restore.RestoredCollections),
		FailedCollections:   nonNil(restore.FailedCollections),
		FilesRestored:       restore.FilesRestored,
		Warnings:            nonNil(restore.Warnings),
		ErrorMessage:        restore.ErrorMessage,
		StartedBy:           restore.StartedBy,
		StartedAt:           restore.StartedAt,
		CompletedAt:         restore.CompletedAt,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
