package dto

import "time"

// CreateClientRequest registers an API client. Scopes default to ["all"].
type CreateClientRequest struct {
	Label  string   `json:"label" binding:"required"`
	Scopes []string `json:"scopes"`
}

// UpdateClientRequest relabels a client. Omitted scopes are left unchanged.
type UpdateClientRequest struct {
	Label  string   `json:"label" binding:"required"`
	Scopes []string `json:"scopes"`
}

type ClientResponse struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClientCreateResponse is the only response that carries the plain secret.
type ClientCreateResponse struct {
	ClientResponse
	Secret string `json:"secret"`
}

type ClientListResponse struct {
	Items      []ClientResponse `json:"items"`
	Pagination PaginationInfo   `json:"pagination"`
}
