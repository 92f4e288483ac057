// Command chat is a terminal client for one-to-one conversations.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/treechat/internal/auth"
	"github.com/PaulBabatuyi/treechat/internal/chat"
	"github.com/PaulBabatuyi/treechat/internal/config"
	"github.com/PaulBabatuyi/treechat/internal/data"
	"github.com/PaulBabatuyi/treechat/internal/db"
	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/memstore"
	"github.com/PaulBabatuyi/treechat/internal/ratelimit"
	"github.com/PaulBabatuyi/treechat/internal/view"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
}

// backend is the store the client talks to.
type backend struct {
	chat  chat.Store
	users auth.UserStore
	ping  func(context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	if cfg.Offline {
		log.Info("running offline with the in-memory store")
		mem := memstore.New()
		return &backend{
			chat:  mem,
			users: mem,
			ping:  func(context.Context) error { return nil },
			close: func() {},
		}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dbClient, err := db.New(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	// Ensure indexes exist
	if err := dbClient.CreateIndexes(connectCtx); err != nil {
		_ = dbClient.Close(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	store := data.NewStore(
		dbClient.UsersCollection(),
		dbClient.ChatsCollection(),
		dbClient.MessagesCollection(),
		log,
		cfg.FeedRetryMax,
	)
	return &backend{
		chat:  store,
		users: store.Users,
		ping:  dbClient.Ping,
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := dbClient.Close(ctx); err != nil {
				log.Warn("close MongoDB", zap.Error(err))
			}
		},
	}, nil
}

func newTokens(cfg *config.Config) *auth.JWTManager {
	if len(cfg.JWTKeys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.JWTKeys, cfg.JWTActiveKid, cfg.JWTExpiration)
	}
	return auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
}

// newMailer picks reset delivery. Only offline runs, where every account
// lives in this process, get the log mailer. There is no mail delivery
// against a shared database, so reset is refused there.
func newMailer(cfg *config.Config, log *logger.Logger) auth.Mailer {
	if cfg.Offline {
		return logMailer{log: log}
	}
	return nil
}

// logMailer writes reset tokens to the debug log.
type logMailer struct {
	log *logger.Logger
}

func (m logMailer) SendReset(_ context.Context, email, token string, expiresAt time.Time) error {
	m.log.Info("password reset requested", zap.String("email", email))
	m.log.Debug("password reset token",
		zap.String("email", email),
		zap.String("token", token),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

// signIn signs in with the configured account. With a name configured an
// unknown account is registered first.
func signIn(ctx context.Context, cfg *config.Config, p *auth.Provider) (*auth.Session, error) {
	if cfg.Name != "" {
		s, err := p.SignUp(ctx, cfg.Name, cfg.Email, cfg.Password)
		if !errors.Is(err, auth.ErrUserExists) {
			return s, err
		}
	}
	return p.SignIn(ctx, cfg.Email, cfg.Password)
}

// readLines sends stdin lines to the returned channel and closes it at end
// of input.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func renderLoop(ctx context.Context, engine *chat.Engine, term *terminal) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-engine.Snapshots():
			term.render(s)
		}
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	limiter := ratelimit.New(cfg.RateLimitRPM, cfg.RateLimitBurst, time.Minute, 10*time.Minute)
	defer limiter.Stop()

	provider := auth.NewProvider(be.users, newTokens(cfg), limiter, newMailer(cfg, log), cfg.ResetTokenTTL, log)

	engine := chat.NewEngine(be.chat, log)
	defer engine.Close()
	client := chat.NewClient(engine, be.chat, log)
	unbind := bindSession(provider, client)
	defer unbind()

	if cfg.MetricsAddr != "" {
		srv := serveDebug(cfg.MetricsAddr, be.ping, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	term := newTerminal(os.Stdout, view.Options{Location: time.Local})

	session, err := signIn(ctx, cfg, provider)
	if err != nil {
		return errors.New(auth.Message(err))
	}
	term.println("Signed in as " + session.User.Name() + ". Type /help for commands.")
	defer func() {
		if err := provider.SignOut(context.Background()); err != nil {
			log.Warn("sign out", zap.Error(err))
		}
	}()

	go renderLoop(ctx, engine, term)

	a := &app{
		provider: provider,
		client:   client,
		term:     term,
		lines:    readLines(ctx, os.Stdin),
		log:      log.Named("app"),
	}
	a.run(ctx)
	return nil
}
