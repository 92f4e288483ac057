package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/treechat/internal/logger"
	"github.com/PaulBabatuyi/treechat/internal/model"
)

const (
	presenceTimeout = 5 * time.Second
	writeTimeout    = 15 * time.Second
)

// Client follows the identity provider's session changes. A session starts
// the engine and marks the user online; losing it marks the user offline
// and tears the engine state down.
type Client struct {
	engine *Engine
	store  Store
	log    *logger.Logger

	mu    sync.Mutex
	coord *Coordinator
}

// NewClient returns a client driving engine against store.
func NewClient(engine *Engine, store Store, log *logger.Logger) *Client {
	return &Client{engine: engine, store: store, log: log.Named("session")}
}

// Engine returns the engine the client drives.
func (c *Client) Engine() *Engine { return c.engine }

// Coordinator returns the coordinator of the current session, nil when
// signed out.
func (c *Client) Coordinator() *Coordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coord
}

// SessionChanged applies a session change. nil means signed out.
func (c *Client) SessionChanged(user *model.User) {
	c.mu.Lock()
	prev := c.coord
	c.coord = nil
	c.mu.Unlock()

	if prev != nil {
		if user != nil && user.ID == prev.me.ID {
			// token refresh for the same user
			c.mu.Lock()
			c.coord = prev
			c.mu.Unlock()
			return
		}
		c.setPresence(prev.me.ID, false)
		if err := c.engine.End(); err != nil {
			c.log.Warn("end session", zap.Error(err))
		}
		c.log.Info("signed out", zap.String("user_id", prev.me.ID))
	}
	if user == nil {
		return
	}

	if err := c.engine.Begin(user.ID); err != nil {
		c.log.Error("begin session", zap.Error(err))
		return
	}
	c.setPresence(user.ID, true)

	coord := NewCoordinator(c.engine, c.store, *user, c.log)
	c.mu.Lock()
	c.coord = coord
	c.mu.Unlock()
	c.log.Info("signed in", zap.String("user_id", user.ID))
}

func (c *Client) setPresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := c.store.SetPresence(ctx, userID, online); err != nil {
		c.log.Warn("presence update failed", zap.Bool("online", online), zap.Error(err))
	}
}
