package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/service"
)

type ConfigHandler struct {
	engine *service.Engine
}

func NewConfigHandler(engine *service.Engine) *ConfigHandler {
	return &ConfigHandler{engine: engine}
}

// GetConfig handles GET /config
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	cfg, err := h.engine.GetBackupConfig(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toConfigResponse(cfg))
}

// UpdateConfig handles PUT /config
func (h *ConfigHandler) UpdateConfig(c *gin.Context) {
	var req dto.UpdateBackupConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	cfg, err := h.engine.GetBackupConfig(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	applyConfigUpdate(cfg, req)

	if err := h.engine.UpdateBackupConfig(c.Request.Context(), cfg); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toConfigResponse(cfg))
}

func applyConfigUpdate(cfg *domain.BackupConfig, req dto.UpdateBackupConfigRequest) {
	if req.AutoBackupEnabled != nil {
		cfg.AutoBackupEnabled = *req.AutoBackupEnabled
	}
	if req.ScheduleType != nil {
		cfg.ScheduleType = domain.ScheduleType(*req.ScheduleType)
	}
	if req.ScheduleTimeOfDay != nil {
		cfg.ScheduleTimeOfDay = *req.ScheduleTimeOfDay
	}
	if req.RetentionDays != nil {
		cfg.RetentionDays = *req.RetentionDays
	}
	if req.Compression != nil {
		cfg.Compression = domain.Compression(*req.Compression)
	}
	if req.IncludeFiles != nil {
		cfg.IncludeFiles = *req.IncludeFiles
	}
	if req.IncludeFileContents != nil {
		cfg.IncludeFileContents = *req.IncludeFileContents
	}
	if req.IncludeDatabase != nil {
		cfg.IncludeDatabase = *req.IncludeDatabase
	}
	if req.MaxBackups != nil {
		cfg.MaxBackups = *req.MaxBackups
	}
	if req.Collections != nil {
		cfg.Collections = req.Collections
	}
}

func toConfigResponse(cfg *domain.BackupConfig) dto.BackupConfigResponse {
	return dto.BackupConfigResponse{
		AutoBackupEnabled:   cfg.AutoBackupEnabled,
		ScheduleType:        string(cfg.ScheduleType),
		ScheduleTimeOfDay:   cfg.ScheduleTimeOfDay,
		RetentionDays:       cfg.RetentionDays,
		Compression:         string(cfg.Compression),
		IncludeFiles:        cfg.IncludeFiles,
		IncludeFileContents: cfg.IncludeFileContents,
		IncludeDatabase:     cfg.IncludeDatabase,
		MaxBackups:          cfg.MaxBackups,
		Collections:         cfg.Collections,
		UpdatedAt:           cfg.UpdatedAt,
	}
}
