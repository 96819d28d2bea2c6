package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/service"
)

// ClientHandler manages API credentials. Routes are mounted behind the all
// scope.
type ClientHandler struct {
	auth *service.AuthService
}

func NewClientHandler(auth *service.AuthService) *ClientHandler {
	return &ClientHandler{auth: auth}
}

// CreateClient handles POST /clients
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var req dto.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	client, secret, err := h.auth.CreateClient(c.Request.Context(), req.Label, req.Scopes)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.ClientCreateResponse{
		ClientResponse: toClientResponse(client),
		Secret:         secret,
	})
}

// GetClient handles GET /clients/:id
func (h *ClientHandler) GetClient(c *gin.Context) {
	client, err := h.auth.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toClientResponse(client))
}

// ListClients handles GET /clients. The list is small and returned whole.
func (h *ClientHandler) ListClients(c *gin.Context) {
	clients, err := h.auth.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.ClientResponse, len(clients))
	for i, client := range clients {
		items[i] = toClientResponse(client)
	}
	c.JSON(http.StatusOK, dto.ClientListResponse{
		Items:      items,
		Pagination: paginationInfo(len(items), 1, max(len(items), 1)),
	})
}

// UpdateClient handles PUT /clients/:id
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	var req dto.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	client, err := h.auth.UpdateClient(c.Request.Context(), c.Param("id"), req.Label, req.Scopes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toClientResponse(client))
}

// DeleteClient handles DELETE /clients/:id
func (h *ClientHandler) DeleteClient(c *gin.Context) {
	if err := h.auth.DeleteClient(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toClientResponse(client *domain.Client) dto.ClientResponse {
	return dto.ClientResponse{
		ID:        client.ID,
		Label:     client.Label,
		Scopes:    client.Scopes,
		CreatedAt: client.CreatedAt,
		UpdatedAt: client.UpdatedAt,
	}
}
