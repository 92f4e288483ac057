package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/memstore"
	"github.com/PaulBabatuyi/treechat/internal/ratelimit"
)

type sentReset struct {
	email string
	token string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentReset
	err  error
}

func (m *fakeMailer) SendReset(_ context.Context, email, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentReset{email: email, token: token})
	return nil
}

func newProvider(t *testing.T, limiter *ratelimit.Store) (*Provider, *memstore.Store, *fakeMailer) {
	t.Helper()
	store := memstore.New()
	mailer := &fakeMailer{}
	p := NewProvider(store, NewJWTManager("test-secret", time.Hour), limiter, mailer, time.Minute, logger.Nop())
	return p, store, mailer
}

func TestProvider_SignUpAndSignIn(t *testing.T) {
	p, _, _ := newProvider(t, nil)
	ctx := context.Background()

	s, err := p.SignUp(ctx, "Alice", " Alice@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if s.User.Email != "alice@example.com" || s.User.Password != "" || s.Token == "" {
		t.Fatalf("session = %+v", s)
	}

	if _, err := p.SignUp(ctx, "Alice", "alice@example.com", "secret1"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("duplicate SignUp err = %v", err)
	}

	if _, err := p.SignIn(ctx, "alice@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, err := p.SignIn(ctx, "nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}

	again, err := p.SignIn(ctx, "ALICE@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if again.User.ID != s.User.ID || again.ID == s.ID {
		t.Fatalf("sign in session = %+v, first = %+v", again, s)
	}
}

func TestProvider_Validation(t *testing.T) {
	p, _, _ := newProvider(t, nil)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"", "a@example.com", "secret1"},
		{"A", "not-an-email", "secret1"},
		{"A", "a@example.com", "short"},
	}
	for _, c := range cases {
		_, err := p.SignUp(ctx, c.name, c.email, c.password)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("SignUp(%q, %q) err = %v", c.name, c.email, err)
		}
		if Message(err) != err.Error() {
			t.Fatalf("validation message = %q", Message(err))
		}
	}
}

func TestProvider_SessionListeners(t *testing.T) {
	p, _, _ := newProvider(t, nil)
	ctx := context.Background()

	var got []*Session
	unsubscribe := p.OnSessionChange(func(s *Session) { got = append(got, s) })
	if len(got) != 1 || got[0] != nil {
		t.Fatalf("initial delivery = %v", got)
	}

	s, err := p.SignUp(ctx, "Bob", "bob@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	// signing out twice notifies once
	_ = p.SignOut(ctx)

	if len(got) != 3 || got[1] != s || got[2] != nil {
		t.Fatalf("deliveries = %v", got)
	}

	unsubscribe()
	if _, err := p.SignIn(ctx, "bob@example.com", "secret1"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("listener called after unsubscribe")
	}
	if p.Current() == nil {
		t.Fatalf("no current session after sign in")
	}
}

func TestProvider_Resume(t *testing.T) {
	p, _, _ := newProvider(t, nil)
	ctx := context.Background()

	s, err := p.SignUp(ctx, "Carol", "carol@example.com", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	_ = p.SignOut(ctx)

	resumed, err := p.Resume(ctx, s.Token)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.User.ID != s.User.ID {
		t.Fatalf("resumed user = %+v", resumed.User)
	}
	if _, err := p.Resume(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Resume garbage err = %v", err)
	}
}

func TestProvider_ResetCredential(t *testing.T) {
	p, _, mailer := newProvider(t, nil)
	ctx := context.Background()

	if _, err := p.SignUp(ctx, "Dan", "dan@example.com", "secret1"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if err := p.ResetCredential(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown email err = %v", err)
	}
	if err := p.ResetCredential(ctx, "invalid"); !errors.Is(err, ErrValidation) {
		t.Fatalf("invalid email err = %v", err)
	}
	if err := p.ResetCredential(ctx, "DAN@example.com"); err != nil {
		t.Fatalf("ResetCredential: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].email != "dan@example.com" {
		t.Fatalf("sent = %+v", mailer.sent)
	}

	token := mailer.sent[0].token
	if _, err := p.Resume(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("reset token resumed a session: %v", err)
	}
	if err := p.CompleteReset(ctx, token, "newsecret"); err != nil {
		t.Fatalf("CompleteReset: %v", err)
	}
	if _, err := p.SignIn(ctx, "dan@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password err = %v", err)
	}
	if _, err := p.SignIn(ctx, "dan@example.com", "newsecret"); err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}
}

func TestProvider_ResetWithoutMailer(t *testing.T) {
	store := memstore.New()
	p := NewProvider(store, NewJWTManager("test-secret", time.Hour), nil, nil, time.Minute, logger.Nop())
	ctx := context.Background()

	if _, err := p.SignUp(ctx, "Gus", "gus@example.com", "secret1"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	err := p.ResetCredential(ctx, "gus@example.com")
	if !errors.Is(err, ErrResetUnavailable) {
		t.Fatalf("ResetCredential err = %v", err)
	}
	if Message(err) != "Password reset is not available here." {
		t.Fatalf("message = %q", Message(err))
	}
}

func TestProvider_RateLimit(t *testing.T) {
	limiter := ratelimit.New(1, 2, time.Hour, time.Hour)
	defer limiter.Stop()
	p, _, _ := newProvider(t, limiter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.SignIn(ctx, "eve@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d err = %v", i, err)
		}
	}
	if _, err := p.SignIn(ctx, "eve@example.com", "secret1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("limited attempt err = %v", err)
	}
	// limits are per email
	if _, err := p.SignIn(ctx, "frank@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("other email err = %v", err)
	}
}

func TestMessage(t *testing.T) {
	if Message(nil) != "" {
		t.Fatalf("nil message not empty")
	}
	if Message(ErrUserNotFound) != "Email not found." {
		t.Fatalf("not found message = %q", Message(ErrUserNotFound))
	}
	if Message(errors.New("db down")) == "db down" {
		t.Fatalf("internal error leaked")
	}
}
