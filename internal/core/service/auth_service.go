package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/repository"
)

const (
	DefaultTokenTTL = time.Hour
	BcryptCost      = 10
)

type AuthService struct {
	clientRepo   repository.ClientRepository
	jwtSecret    string
	jwtAlgorithm string
	tokenTTL     time.Duration
	now          func() time.Time
}

func NewAuthService(
	clientRepo repository.ClientRepository,
	jwtSecret string,
	jwtAlgorithm string,
	tokenTTL time.Duration,
) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	return &AuthService{
		clientRepo:   clientRepo,
		jwtSecret:    jwtSecret,
		jwtAlgorithm: jwtAlgorithm,
		tokenTTL:     tokenTTL,
		now:          time.Now,
	}
}

// HashSecret hashes a client secret using bcrypt
func (s *AuthService) HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret verifies a secret against a hash
func (s *AuthService) VerifySecret(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

// CreateClient registers an API client and returns it with its plain secret,
// which is not stored and cannot be recovered later.
func (s *AuthService) CreateClient(ctx context.Context, label string, scopes []string) (*domain.Client, string, error) {
	secret := uuid.New().String()
	hashed, err := s.HashSecret(secret)
	if err != nil {
		return nil, "", err
	}

	client, err := domain.NewClient(label, hashed, scopes, s.now())
	if err != nil {
		return nil, "", err
	}
	if err := s.clientRepo.Create(ctx, client); err != nil {
		return nil, "", fmt.Errorf("failed to create client: %w", err)
	}
	return client, secret, nil
}

func (s *AuthService) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	return s.clientRepo.FindByID(ctx, id)
}

func (s *AuthService) ListClients(ctx context.Context) ([]*domain.Client, error) {
	return s.clientRepo.List(ctx)
}

// UpdateClient changes a client's label and, when scopes is non-nil, its
// scopes. Tokens already issued keep the scopes they were signed with.
func (s *AuthService) UpdateClient(ctx context.Context, id, label string, scopes []string) (*domain.Client, error) {
	client, err := s.clientRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scopes == nil {
		scopes = client.Scopes
	}
	if err := client.Configure(label, scopes, s.now()); err != nil {
		return nil, err
	}
	if err := s.clientRepo.Update(ctx, client); err != nil {
		return nil, err
	}
	return client, nil
}

func (s *AuthService) DeleteClient(ctx context.Context, id string) error {
	return s.clientRepo.Delete(ctx, id)
}

// AuthenticateClient authenticates a client and returns a JWT token
func (s *AuthService) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (string, error) {
	client, err := s.clientRepo.FindByID(ctx, clientID)
	if err != nil {
		return "", fmt.Errorf("%w: invalid client credentials", domain.ErrPermissionDenied)
	}

	if !s.VerifySecret(clientSecret, client.Secret) {
		return "", fmt.Errorf("%w: invalid client credentials", domain.ErrPermissionDenied)
	}

	return s.IssueToken(clientID, "client", client.Scopes)
}

// ValidateToken validates a JWT token and returns the claims
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != s.signingMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("%w: invalid token: %v", domain.ErrPermissionDenied, err)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("%w: invalid token claims", domain.ErrPermissionDenied)
}

// IssueToken signs a token for subject carrying the given scopes.
func (s *AuthService) IssueToken(subject, subjectType string, scopes []string) (string, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	claims := TokenClaims{
		Subject:     subject,
		SubjectType: subjectType,
		Scopes:      scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "vaultkeep",
		},
	}

	token := jwt.NewWithClaims(s.signingMethod(), claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *AuthService) signingMethod() jwt.SigningMethod {
	switch s.jwtAlgorithm {
	case "HS384":
		return jwt.SigningMethodHS384
	case "HS512":
		return jwt.SigningMethodHS512
	default:
		return jwt.SigningMethodHS256
	}
}

// TokenClaims represents JWT claims
type TokenClaims struct {
	Subject     string   `json:"sub"`
	SubjectType string   `json:"sub_type"` // "client" or "operator"
	Scopes      []string `json:"scopes"`
	jwt.RegisteredClaims
}
