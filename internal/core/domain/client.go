package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is an API credential for the client_credentials grant. Secret holds
// the bcrypt hash; the plain secret is shown once at creation.
type Client struct {
	ID        string
	Secret    string
	Label     string
	Scopes    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewClient(label, hashedSecret string, scopes []string, now time.Time) (*Client, error) {
	c := &Client{
		ID:        uuid.New().String(),
		Secret:    hashedSecret,
		CreatedAt: now.UTC(),
	}
	if err := c.Configure(label, scopes, now); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure replaces the label and scopes. No scopes means ScopeAll.
func (c *Client) Configure(label string, scopes []string, now time.Time) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return fmt.Errorf("%w: client label is required", ErrValidation)
	}
	for _, scope := range scopes {
		if !ValidScope(scope) {
			return fmt.Errorf("%w: unknown scope %q", ErrValidation, scope)
		}
	}
	if len(scopes) == 0 {
		scopes = []string{ScopeAll}
	}

	c.Label = label
	c.Scopes = append([]string(nil), scopes...)
	c.UpdatedAt = now.UTC()
	return nil
}

func (c *Client) Grants(capability Capability) bool {
	return ScopesGrant(c.Scopes, capability)
}
