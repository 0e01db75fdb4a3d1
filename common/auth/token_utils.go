package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenTypeAccess = "access"
	adminRole       = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotAdmin           = errors.New("token does not belong to the admin")
)

// TokenService creates and validates HS256 admin tokens.
type TokenService struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &TokenService{secretKey: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *TokenService) GenerateToken(email, role string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   email,
		"email": email,
		"role":  role,
		"typ":   TokenTypeAccess,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ParseAndValidateToken parses a JWT token string and returns its claims.
// If expectedType is non-empty, the claim "typ" must match it.
func (s *TokenService) ParseAndValidateToken(tokenStr, expectedType string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedType != "" {
		if typ, ok := claims["typ"].(string); !ok || typ != expectedType {
			return nil, fmt.Errorf("invalid token type")
		}
	}
	return claims, nil
}

// AdminAuthenticator recognises the single admin identity by email.
type AdminAuthenticator struct {
	tokens       *TokenService
	adminEmail   string
	passwordHash []byte
}

func NewAdminAuthenticator(tokens *TokenService, adminEmail, passwordHash string) *AdminAuthenticator {
	return &AdminAuthenticator{
		tokens:       tokens,
		adminEmail:   normalizeEmail(adminEmail),
		passwordHash: []byte(passwordHash),
	}
}

// IsAdmin reports whether email is the configured admin address.
func (a *AdminAuthenticator) IsAdmin(email string) bool {
	return a.adminEmail != "" && normalizeEmail(email) == a.adminEmail
}

// Login checks the admin credentials and returns a signed access token.
func (a *AdminAuthenticator) Login(email, password string) (string, error) {
	if !a.IsAdmin(email) || len(a.passwordHash) == 0 {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.tokens.GenerateToken(a.adminEmail, adminRole)
}

// Verify validates an access token and returns the admin email it carries.
func (a *AdminAuthenticator) Verify(tokenStr string) (string, error) {
	claims, err := a.tokens.ParseAndValidateToken(tokenStr, TokenTypeAccess)
	if err != nil {
		return "", err
	}
	email, _ := claims["email"].(string)
	if !a.IsAdmin(email) {
		return "", ErrNotAdmin
	}
	return email, nil
}

// HashPassword returns the bcrypt hash stored in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
