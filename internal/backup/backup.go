// Package backup snapshots the SQLite contact store with VACUUM INTO,
// verifies each snapshot and prunes old ones by age tier.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/logging"
)

const (
	filePrefix  = "introducer-"
	fileSuffix  = ".db"
	stampLayout = "20060102-150405.000000"
)

// Config configures a Service.
type Config struct {
	DBPath    string        // SQLite database to snapshot
	Dir       string        // Snapshot directory
	Interval  time.Duration // Schedule for Run (default: 1h)
	Retention RetentionPolicy
}

// Snapshot describes one backup file.
type Snapshot struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Verified  bool      `json:"verified"`
}

// Service takes snapshots on demand or on a schedule.
type Service struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New validates cfg and creates the snapshot directory.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("backup: database path is required")
	}
	if cfg.Dir == "" {
		return nil, errors.New("backup: backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	cfg.Retention = cfg.Retention.withDefaults()

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("backup: failed to create backup directory: %w", err)
	}

	s := &Service{cfg: cfg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot writes and verifies a new backup, then applies retention.
// Retention failures are logged only.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("backup: database not found: %w", err)
	}

	now := s.now().UTC()
	path := filepath.Join(s.cfg.Dir, filePrefix+now.Format(stampLayout)+fileSuffix)
	if err := vacuumInto(ctx, s.cfg.DBPath, path); err != nil {
		return nil, err
	}
	if err := verify(ctx, path); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to stat snapshot: %w", err)
	}

	s.mu.Lock()
	s.last = now
	s.mu.Unlock()

	if err := applyRetention(s.cfg.Dir, s.cfg.Retention, now); err != nil {
		s.logger.Warn("failed to apply backup retention", zap.Error(err))
	}

	snap := &Snapshot{Path: path, Timestamp: now, Size: info.Size(), Verified: true}
	s.logger.Info("backup written", zap.String("path", path), zap.Int64("bytes", snap.Size))
	return snap, nil
}

// Run snapshots every interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("backup schedule started",
		zap.Duration("interval", s.cfg.Interval), zap.String("dir", s.cfg.Dir))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Snapshot(ctx); err != nil {
				s.logger.Error("scheduled backup failed", zap.Error(err))
			}
		}
	}
}

// List returns the snapshots in the backup directory, newest first.
func (s *Service) List() ([]Snapshot, error) {
	return listSnapshots(s.cfg.Dir)
}

// LastSnapshot returns when the last snapshot by this service was taken.
func (s *Service) LastSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
