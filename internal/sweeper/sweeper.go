package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is how often the sweep runs when not configured.
const DefaultInterval = time.Hour

var errMissingStore = errors.New("sweeper: note and chat stores are required")

// Store is the cleanup surface each lifecycle store exposes.
type Store interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Config describes the sweeper dependencies.
type Config struct {
	Interval time.Duration
	Notes    Store
	Chats    Store
	Logger   *zap.Logger
}

// Sweeper periodically reclaims expired notes and chats. Access-triggered
// sweeps only clean the entity being touched; this loop is the mechanism that
// reclaims entities nobody ever came back for.
type Sweeper struct {
	interval time.Duration
	notes    Store
	chats    Store
	logger   *zap.Logger
}

// New validates the configuration and constructs the sweeper.
func New(cfg Config) (*Sweeper, error) {
	if cfg.Notes == nil || cfg.Chats == nil {
		return nil, errMissingStore
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		interval: interval,
		notes:    cfg.Notes,
		chats:    cfg.Chats,
		logger:   logger,
	}, nil
}

// Run blocks, sweeping on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one cleanup pass over both stores. A failure in one store
// does not prevent the other from being swept.
func (s *Sweeper) Sweep(ctx context.Context) {
	reclaimedNotes, err := s.notes.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("note sweep failed", zap.Error(err))
	}

	reclaimedChats, err := s.chats.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("chat sweep failed", zap.Error(err))
	}

	if reclaimedNotes > 0 || reclaimedChats > 0 {
		s.logger.Info("sweep completed",
			zap.Int64("notes_reclaimed", reclaimedNotes),
			zap.Int64("chats_reclaimed", reclaimedChats))
	}
}
