package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
	"github.com/martijn/vaultkeep/internal/core/service"
)

// eventBuffer bounds how far one SSE client may fall behind before the
// subscription callback waits on it.
const eventBuffer = 64

type BackupHandler struct {
	engine *service.Engine
}

func NewBackupHandler(engine *service.Engine) *BackupHandler {
	return &BackupHandler{engine: engine}
}

// CreateBackup handles POST /backups
func (h *BackupHandler) CreateBackup(c *gin.Context) {
	var req dto.CreateBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	kind := domain.BackupKindManual
	if req.Kind != "" {
		kind = domain.BackupKind(req.Kind)
	}

	opts := service.CreateOptions{
		Collections:   req.Collections,
		IncludeFiles:  req.IncludeFiles,
		RetentionDays: req.RetentionDays,
	}
	if req.Compression != nil {
		compression := domain.Compression(*req.Compression)
		opts.Compression = &compression
	}

	backup, err := h.engine.CreateBackup(c.Request.Context(), kind, req.Name, opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toBackupResponse(backup))
}

// GetBackup handles GET /backups/:id
func (h *BackupHandler) GetBackup(c *gin.Context) {
	backup, err := h.engine.GetBackupByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBackupResponse(backup))
}

// ListBackups handles GET /backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	page, perPage, ok := pagination(c)
	if !ok {
		return
	}

	filter := repository.BackupFilter{
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	for _, s := range splitList(c.Query("status")) {
		status := domain.BackupStatus(s)
		if !status.Valid() {
			badRequest(c, "invalid status: "+s)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	for _, k := range splitList(c.Query("kind")) {
		kind := domain.BackupKind(k)
		if !kind.Valid() {
			badRequest(c, "invalid kind: "+k)
			return
		}
		filter.Kinds = append(filter.Kinds, kind)
	}

	backups, total, err := h.engine.FindBackups(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	response := dto.BackupListResponse{
		Items:      make([]dto.BackupResponse, len(backups)),
		Pagination: paginationInfo(total, page, perPage),
	}
	for i, backup := range backups {
		response.Items[i] = toBackupResponse(backup)
	}

	c.JSON(http.StatusOK, response)
}

// DeleteBackup handles DELETE /backups/:id
func (h *BackupHandler) DeleteBackup(c *gin.Context) {
	if err := h.engine.DeleteBackup(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CancelBackup handles POST /backups/:id/cancel
func (h *BackupHandler) CancelBackup(c *gin.Context) {
	backup, err := h.engine.CancelBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBackupResponse(backup))
}

// ValidateBackup handles GET /backups/:id/validate
func (h *BackupHandler) ValidateBackup(c *gin.Context) {
	report, err := h.engine.ValidateBackup(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ValidationResponse{
		BackupID:        report.BackupID,
		IsValid:         report.IsValid,
		ChecksumMatches: report.ChecksumMatches,
		SizeMatches:     report.SizeMatches,
		Errors:          report.Errors,
		Warnings:        report.Warnings,
	})
}

// Events handles GET /backups/events, streaming progress as server-sent
// events until the client disconnects. ?backup_id= narrows the stream.
func (h *BackupHandler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	only := c.Query("backup_id")

	events := make(chan domain.ProgressEvent, eventBuffer)
	unsubscribe := h.engine.OnProgress(func(ev domain.ProgressEvent) {
		if only != "" && ev.BackupID != only {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev := <-events:
			c.SSEvent("progress", ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func toBackupResponse(backup *domain.BackupRecord) dto.BackupResponse {
	return dto.BackupResponse{
		ID:                  backup.ID,
		Name:                backup.Name,
		Kind:                string(backup.Kind),
		Status:              string(backup.Status),
		Progress:            backup.Progress,
		CollectionsIncluded: backup.CollectionsIncluded,
		IncludeFiles:        backup.IncludeFiles,
		Compression:         string(backup.Compression),
		ArtifactPath:        backup.ArtifactPath,
		SizeBytes:           backup.SizeBytes,
		Checksum:            backup.Checksum,
		ErrorMessage:        backup.ErrorMessage,
		StartedBy:           backup.StartedBy,
		RetentionDays:       backup.RetentionDays,
		ExpiresAt:           backup.ExpiresAt,
		StartedAt:           backup.StartedAt,
		CompletedAt:         backup.CompletedAt,
		FinishedAt:          backup.FinishedAt,
	}
}

// splitList parses a comma separated query value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
