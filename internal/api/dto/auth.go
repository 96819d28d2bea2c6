package dto

// TokenRequest is accepted as JSON or as an OAuth2 form post.
type TokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type" binding:"required,eq=client_credentials"`
	ClientID     string `json:"client_id" form:"client_id" binding:"required"`
	ClientSecret string `json:"client_secret" form:"client_secret" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"` // space separated, as in RFC 6749
}
