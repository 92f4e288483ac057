// Package auth is the identity provider: credential checks, session and
// reset tokens, and session change notification.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/metrics"
	"github.com/PaulBabatuyi/treechat/internal/model"
	"github.com/PaulBabatuyi/treechat/internal/normalize"
	"github.com/PaulBabatuyi/treechat/internal/ratelimit"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserExists         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("email not found")
	ErrRateLimited        = errors.New("too many attempts, try again later")
	ErrValidation         = errors.New("invalid input")
	ErrResetUnavailable   = errors.New("credential reset unavailable")
)

const minPasswordLength = 6

// UserStore is the persistence the provider needs. Stores report missing
// and duplicate users with codes.NotFound and codes.AlreadyExists.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, hashedPassword string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdatePassword(ctx context.Context, id, hashedPassword string) error
}

// Mailer delivers credential reset tokens.
type Mailer interface {
	SendReset(ctx context.Context, email, token string, expiresAt time.Time) error
}

// Session is a signed-in user.
type Session struct {
	ID        string
	User      model.User
	Token     string
	ExpiresAt time.Time
}

// Provider signs users in and out and tells listeners about it.
type Provider struct {
	users    UserStore
	tokens   *JWTManager
	limiter  *ratelimit.Store
	mailer   Mailer
	resetTTL time.Duration
	log      *logger.Logger

	mu        sync.Mutex
	current   *Session
	listeners map[uint64]func(*Session)
	nextID    uint64
}

// NewProvider returns a provider. limiter may be nil to disable limiting.
// A nil mailer disables credential reset.
func NewProvider(users UserStore, tokens *JWTManager, limiter *ratelimit.Store, mailer Mailer, resetTTL time.Duration, log *logger.Logger) *Provider {
	if resetTTL <= 0 {
		resetTTL = 15 * time.Minute
	}
	return &Provider{
		users:     users,
		tokens:    tokens,
		limiter:   limiter,
		mailer:    mailer,
		resetTTL:  resetTTL,
		log:       log.Named("auth"),
		listeners: make(map[uint64]func(*Session)),
	}
}

type validationError struct{ reason string }

func (e *validationError) Error() string        { return e.reason }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

func invalid(reason string) error { return &validationError{reason: reason} }

var validate = validator.New()

func validateName(name string) error {
	if validate.Var(strings.TrimSpace(name), "required") != nil {
		return invalid("enter your name")
	}
	return nil
}

func validateEmail(email string) error {
	if validate.Var(email, "required,contains=@") != nil {
		return invalid("enter a valid email address")
	}
	return nil
}

func validatePassword(password string) error {
	if validate.Var(password, fmt.Sprintf("min=%d", minPasswordLength)) != nil {
		return invalid(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}

func (p *Provider) allow(op, email string) error {
	if p.limiter == nil || p.limiter.Allow(ratelimit.Key(op, email)) {
		return nil
	}
	return ErrRateLimited
}

// SignUp registers a user and signs them in.
func (p *Provider) SignUp(ctx context.Context, name, email, password string) (_ *Session, err error) {
	defer func() { metrics.RecordAuth("signup", err) }()

	email = normalize.Email(email)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := p.allow("signup", email); err != nil {
		return nil, err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := p.users.CreateUser(ctx, email, name, hashed)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, ErrUserExists
		}
		return nil, err
	}
	p.log.Info("user registered", zap.String("user_id", user.ID))
	return p.start(*user)
}

// SignIn verifies credentials and starts a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (_ *Session, err error) {
	defer func() { metrics.RecordAuth("signin", err) }()

	email = normalize.Email(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if err := p.allow("signin", email); err != nil {
		p.log.Warn("sign-in rate limited", zap.String("email", email))
		return nil, err
	}

	user, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// same answer as a wrong password
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := CheckPassword(user.Password, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return p.start(*user)
}

// Resume restores a session from a previously issued token.
func (p *Provider) Resume(ctx context.Context, token string) (_ *Session, err error) {
	defer func() { metrics.RecordAuth("resume", err) }()

	claims, err := p.tokens.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	user, err := p.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s := &Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		User:      user.Public(),
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	p.set(s)
	return s, nil
}

func (p *Provider) start(user model.User) (*Session, error) {
	token, expiresAt, err := p.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		User:      user.Public(),
		Token:     token,
		ExpiresAt: expiresAt,
	}
	p.set(s)
	p.log.Info("session started", zap.String("user_id", user.ID), zap.String("session", s.ID))
	return s, nil
}

// SignOut ends the current session. Listeners receive nil.
func (p *Provider) SignOut(context.Context) error {
	p.mu.Lock()
	had := p.current != nil
	p.mu.Unlock()
	if had {
		p.set(nil)
	}
	return nil
}

// Current returns the active session or nil.
func (p *Provider) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// OnSessionChange registers fn. fn is called at once with the current
// session (nil when signed out) and after every change. The returned
// function unregisters it.
func (p *Provider) OnSessionChange(fn func(*Session)) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	cur := p.current
	p.mu.Unlock()

	fn(cur)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) set(s *Session) {
	p.mu.Lock()
	p.current = s
	fns := make([]func(*Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	// outside the lock; listeners may call back in
	for _, fn := range fns {
		fn(s)
	}
}

// ResetCredential sends a reset token for email through the mailer. The
// token only ever goes to the mailer.
func (p *Provider) ResetCredential(ctx context.Context, email string) (err error) {
	defer func() { metrics.RecordAuth("reset", err) }()

	email = normalize.Email(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if p.mailer == nil {
		return ErrResetUnavailable
	}
	if err := p.allow("reset", email); err != nil {
		return err
	}
	user, err := p.users.GetUserByEmail(ctx, email)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrUserNotFound
		}
		return err
	}
	token, expiresAt, err := p.tokens.GenerateResetToken(user.ID, user.Email, p.resetTTL)
	if err != nil {
		return err
	}
	if err := p.mailer.SendReset(ctx, user.Email, token, expiresAt); err != nil {
		return err
	}
	p.log.Info("reset token issued", zap.String("user_id", user.ID))
	return nil
}

// CompleteReset sets a new password using a reset token.
func (p *Provider) CompleteReset(ctx context.Context, token, password string) (err error) {
	defer func() { metrics.RecordAuth("reset_complete", err) }()

	if err := validatePassword(password); err != nil {
		return err
	}
	claims, err := p.tokens.VerifyResetToken(token)
	if err != nil {
		return err
	}
	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := p.users.UpdatePassword(ctx, claims.UserID, hashed); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// Message returns the text shown to a user for an error from the provider.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return err.Error()
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrUserExists):
		return "This email is already registered."
	case errors.Is(err, ErrUserNotFound):
		return "Email not found."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Please wait a minute and try again."
	case errors.Is(err, ErrResetUnavailable):
		return "Password reset is not available here."
	case errors.Is(err, ErrInvalidToken):
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong. Please try again."
	}
}
