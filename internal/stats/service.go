package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dateLayout = "2006-01-02"

var (
	errMissingDatabase = errors.New("database handle is required")

	noOpLogger = zap.NewNop()
)

// ServiceConfig describes the dependencies of the stats aggregator.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service aggregates creation events into per-day buckets. It is a singleton
// across the system and explicitly best-effort: callers dispatch recordings
// without blocking on them and never fail a user-facing operation on a stats
// error.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates the configuration and constructs the aggregator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("stats: %w", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// RecordNote increments today's note counter.
func (s *Service) RecordNote(ctx context.Context) error {
	return s.record(ctx, "note_count", DailyBucket{NoteCount: 1})
}

// RecordChat increments today's chat counter.
func (s *Service) RecordChat(ctx context.Context) error {
	return s.record(ctx, "chat_count", DailyBucket{ChatCount: 1})
}

// record performs the atomic insert-or-add so concurrent recordings from many
// creations never lose updates.
func (s *Service) record(ctx context.Context, counterColumn string, seed DailyBucket) error {
	seed.Date = s.clock().UTC().Format(dateLayout)

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			counterColumn: gorm.Expr(counterColumn + " + 1"),
		}),
	}).Create(&seed).Error
	if err != nil {
		s.logger.Error("stats recording failed",
			zap.String("counter", counterColumn),
			zap.Error(err))
		return fmt.Errorf("stats: record %s: %w", counterColumn, err)
	}
	return nil
}

// Windows carries rolling sums of one counter.
type Windows struct {
	Last24h  int64
	Last7d   int64
	Last30d  int64
	Last365d int64
	AllTime  int64
}

// DailyCount is one per-day row of the trailing report window.
type DailyCount struct {
	Date      string
	NoteCount int64
	ChatCount int64
}

// Report aggregates both counters over the standard rolling windows plus the
// trailing 30 days of per-day rows.
type Report struct {
	Notes       Windows
	Chats       Windows
	Daily       []DailyCount
	GeneratedAt time.Time
}

type windowSums struct {
	Notes int64
	Chats int64
}

// Report computes the rolling-window aggregation. Pure read; stats rows never
// expire so nothing is swept here.
func (s *Service) Report(ctx context.Context) (Report, error) {
	now := s.clock().UTC()

	cutoffs := []time.Time{
		now.AddDate(0, 0, -1),
		now.AddDate(0, 0, -7),
		now.AddDate(0, 0, -30),
		now.AddDate(0, 0, -365),
	}

	sums := make([]windowSums, 0, len(cutoffs)+1)
	for _, cutoff := range cutoffs {
		window, err := s.sumSince(ctx, cutoff.Format(dateLayout))
		if err != nil {
			return Report{}, err
		}
		sums = append(sums, window)
	}
	allTime, err := s.sumSince(ctx, "")
	if err != nil {
		return Report{}, err
	}
	sums = append(sums, allTime)

	var daily []DailyCount
	err = s.db.WithContext(ctx).Model(&DailyBucket{}).
		Select("date, note_count, chat_count").
		Where("date >= ?", cutoffs[2].Format(dateLayout)).
		Order("date ASC").
		Scan(&daily).Error
	if err != nil {
		return Report{}, fmt.Errorf("stats: daily rows: %w", err)
	}

	return Report{
		Notes: Windows{
			Last24h:  sums[0].Notes,
			Last7d:   sums[1].Notes,
			Last30d:  sums[2].Notes,
			Last365d: sums[3].Notes,
			AllTime:  sums[4].Notes,
		},
		Chats: Windows{
			Last24h:  sums[0].Chats,
			Last7d:   sums[1].Chats,
			Last30d:  sums[2].Chats,
			Last365d: sums[3].Chats,
			AllTime:  sums[4].Chats,
		},
		Daily:       daily,
		GeneratedAt: now,
	}, nil
}

func (s *Service) sumSince(ctx context.Context, fromDate string) (windowSums, error) {
	query := s.db.WithContext(ctx).Model(&DailyBucket{}).
		Select("COALESCE(SUM(note_count), 0) AS notes, COALESCE(SUM(chat_count), 0) AS chats")
	if fromDate != "" {
		query = query.Where("date >= ?", fromDate)
	}

	var sums windowSums
	if err := query.Scan(&sums).Error; err != nil {
		return windowSums{}, fmt.Errorf("stats: window sum: %w", err)
	}
	return sums, nil
}
