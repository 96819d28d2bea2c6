package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/martijn/vaultkeep/internal/api/dto"
	"github.com/martijn/vaultkeep/internal/core/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Token handles POST /auth/token with the client_credentials grant.
func (h *AuthHandler) Token(c *gin.Context) {
	var req dto.TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "grant_type must be client_credentials and client_id and client_secret are required")
		return
	}

	token, err := h.auth.AuthenticateClient(c.Request.Context(), req.ClientID, req.ClientSecret)
	if err != nil {
		unauthorized(c)
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(claims.ExpiresAt.Sub(claims.IssuedAt.Time).Seconds()),
		Scope:       strings.Join(claims.Scopes, " "),
	})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, dto.ErrorResponse{
		Error:   "Unauthorized",
		Message: "invalid client credentials",
		Code:    http.StatusUnauthorized,
	})
}
