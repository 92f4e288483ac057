package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/PaulBabatuyi/treechat/internal/normalize"
)

// Purpose separates session tokens from reset tokens so one can never be
// used as the other.
type Purpose string

const (
	PurposeSession Purpose = "session"
	PurposeReset   Purpose = "reset"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// JWTManager signs and validates JWT tokens. Several keys may be loaded for
// rotation; new tokens are signed with the active one and carry its kid.
type JWTManager struct {
	keys      map[string]string // kid -> HMAC secret
	activeKid string
	duration  time.Duration // How long session tokens are valid (e.g., 24 hours)
}

// Claims is the custom JWT payload.
type Claims struct {
	UserID  string  `json:"user_id"`
	Email   string  `json:"email"` // normalized
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager with a single secret and no kid.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return &JWTManager{
		keys:     map[string]string{"": secretKey},
		duration: duration,
	}
}

// NewJWTManagerFromKeys returns a manager that signs with keys[activeKid]
// and verifies with any key named by a token's kid header.
func NewJWTManagerFromKeys(keys map[string]string, activeKid string, duration time.Duration) *JWTManager {
	cp := make(map[string]string, len(keys))
	for k, v := range keys {
		cp[k] = v
	}
	return &JWTManager{keys: cp, activeKid: activeKid, duration: duration}
}

// GenerateToken issues a session token for a user.
func (m *JWTManager) GenerateToken(userID, email string) (string, time.Time, error) {
	return m.issue(userID, email, PurposeSession, m.duration)
}

// GenerateResetToken issues a short-lived credential reset token.
func (m *JWTManager) GenerateResetToken(userID, email string, ttl time.Duration) (string, time.Time, error) {
	return m.issue(userID, email, PurposeReset, ttl)
}

func (m *JWTManager) issue(userID, email string, purpose Purpose, ttl time.Duration) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKid]
	if !ok {
		return "", time.Time{}, fmt.Errorf("no signing key for kid %q", m.activeKid)
	}
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:  userID,
		Email:   normalize.Email(email),
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.Must(uuid.NewV7()).String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// HS256 (HMAC with SHA-256)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if m.activeKid != "" {
		token.Header["kid"] = m.activeKid
	}

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken validates a session token and returns its claims.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	return m.verify(tokenString, PurposeSession)
}

// VerifyResetToken validates a reset token and returns its claims.
func (m *JWTManager) VerifyResetToken(tokenString string) (*Claims, error) {
	return m.verify(tokenString, PurposeReset)
}

func (m *JWTManager) verify(tokenString string, purpose Purpose) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC; rejects "none" and asymmetric algorithms
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = m.activeKid
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: %s token used as %s", ErrInvalidToken, claims.Purpose, purpose)
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash for the provided plaintext.
func HashPassword(password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedPassword), nil
}

// CheckPassword compares a plaintext password against a bcrypt hash.
func CheckPassword(hash, password string) error {
	// CompareHashAndPassword is constant time
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
