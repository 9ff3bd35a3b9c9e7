// Package notify fans job updates out to every live connection of a user.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/jobpulse/internal/domain"
	"github.com/cuongbtq/jobpulse/internal/metrics"
)

// ErrRegistryClosed is returned by Add after Close
var ErrRegistryClosed = errors.New("connection registry closed")

// Notifier delivers a live update to the viewers of update.UserID
type Notifier interface {
	Notify(ctx context.Context, update domain.JobUpdate)
}

type userConns struct {
	mu     sync.Mutex // guards conns
	sendMu sync.Mutex // orders broadcasts so every conn sees the same sequence
	conns  map[string]*Conn
}

// Registry maps user ids to their open connections
type Registry struct {
	mu          sync.RWMutex
	users       map[string]*userConns
	closed      bool
	sendTimeout time.Duration
	logger      *slog.Logger
}

var _ Notifier = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(sendTimeout time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		users:       make(map[string]*userConns),
		sendTimeout: sendTimeout,
		logger:      logger,
	}
}

// Add registers conn under userID
func (r *Registry) Add(userID string, conn *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}

	uc, ok := r.users[userID]
	if !ok {
		uc = &userConns{conns: make(map[string]*Conn)}
		r.users[userID] = uc
	}

	uc.mu.Lock()
	uc.conns[conn.ID()] = conn
	n := len(uc.conns)
	uc.mu.Unlock()

	metrics.ConnectionOpened()
	r.logger.Debug("Connection registered",
		slog.String("user_id", userID),
		slog.String("conn_id", conn.ID()),
		slog.Int("user_connections", n),
	)
	return nil
}

// Remove unregisters and closes conn. Removing twice is a no-op.
func (r *Registry) Remove(userID string, conn *Conn) {
	conn.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	uc, ok := r.users[userID]
	if !ok {
		return
	}

	uc.mu.Lock()
	_, present := uc.conns[conn.ID()]
	delete(uc.conns, conn.ID())
	empty := len(uc.conns) == 0
	uc.mu.Unlock()

	if empty {
		delete(r.users, userID)
	}
	if present {
		metrics.ConnectionClosed()
		r.logger.Debug("Connection removed",
			slog.String("user_id", userID),
			slog.String("conn_id", conn.ID()),
		)
	}
}

// Broadcast sends update to every connection of userID and returns how many
// accepted it. A connection that is closed or stays full past the send
// timeout is dropped; the rest still receive the update.
func (r *Registry) Broadcast(userID string, update domain.JobUpdate) int {
	r.mu.RLock()
	uc, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	frame := update.Frame()

	uc.sendMu.Lock()
	uc.mu.Lock()
	snapshot := make([]*Conn, 0, len(uc.conns))
	for _, c := range uc.conns {
		snapshot = append(snapshot, c)
	}
	uc.mu.Unlock()

	delivered := 0
	var dead []*Conn
	for _, c := range snapshot {
		if err := c.Send(frame, r.sendTimeout); err != nil {
			r.logger.Debug("Dropping connection after failed send",
				slog.String("user_id", userID),
				slog.String("conn_id", c.ID()),
				slog.Any("error", err),
			)
			dead = append(dead, c)
			metrics.IncBroadcast("evicted")
			continue
		}
		delivered++
		metrics.IncBroadcast("delivered")
	}
	uc.sendMu.Unlock()

	for _, c := range dead {
		r.Remove(userID, c)
	}

	return delivered
}

// Notify implements Notifier
func (r *Registry) Notify(_ context.Context, update domain.JobUpdate) {
	if update.UserID == "" {
		return
	}
	r.Broadcast(update.UserID, update)
}

// Users returns the ids of users with at least one connection
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	return users
}

// Count returns the number of open connections of userID
func (r *Registry) Count(userID string) int {
	r.mu.RLock()
	uc, ok := r.users[userID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.conns)
}

// Close tears down every connection and rejects further Adds
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	total := 0
	for _, uc := range r.users {
		uc.mu.Lock()
		for _, c := range uc.conns {
			c.Close()
			metrics.ConnectionClosed()
			total++
		}
		uc.mu.Unlock()
	}
	r.users = make(map[string]*userConns)

	r.logger.Info("Connection registry closed", slog.Int("connections", total))
}
