package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cinder/backend/internal/locking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultMaxRetention bounds how long an unread note may live when the
// creator supplies no explicit TTL.
const DefaultMaxRetention = 7 * 24 * time.Hour

var (
	errMissingDatabase = errors.New("database handle is required")

	// ErrNotFound indicates the note never existed or was already consumed.
	ErrNotFound = errors.New("notes: note not found")
	// ErrExpired indicates the note outlived its expiry instant. The row is
	// deleted as part of detection; subsequent reads report ErrNotFound.
	ErrExpired = errors.New("notes: note expired")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew = "notes.service.new"
	opStore      = "notes.store"
	opRetrieve   = "notes.retrieve"
	opCleanup    = "notes.cleanup"
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the note store.
type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	Logger       *zap.Logger
	MaxRetention time.Duration
}

// Service owns the lifecycle of one-time notes: store once, retrieve and
// destroy once, or expire. All operations against the same note identifier
// execute strictly serially.
type Service struct {
	db           *gorm.DB
	clock        func() time.Time
	logger       *zap.Logger
	maxRetention time.Duration
	locks        *locking.KeyedMutex
}

// NewService validates the configuration and constructs the note store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	maxRetention := cfg.MaxRetention
	if maxRetention <= 0 {
		maxRetention = DefaultMaxRetention
	}

	return &Service{
		db:           cfg.Database,
		clock:        clock,
		logger:       logger,
		maxRetention: maxRetention,
		locks:        locking.NewKeyedMutex(),
	}, nil
}

// Store inserts a new note. When ttlSeconds is nil the note expires after the
// configured maximum retention. A duplicate identifier fails as a storage
// error; callers generate collision-resistant identifiers.
func (s *Service) Store(ctx context.Context, id string, ciphertext string, ttlSeconds *int64) error {
	if id == "" {
		return newServiceError(opStore, "missing_id", nil)
	}
	if ciphertext == "" {
		return newServiceError(opStore, "missing_ciphertext", nil)
	}

	release := s.locks.Acquire(id)
	defer release()

	nowMillis := s.clock().UTC().UnixMilli()
	expiresAtMillis := nowMillis + s.maxRetention.Milliseconds()
	if ttlSeconds != nil && *ttlSeconds > 0 {
		expiresAtMillis = nowMillis + *ttlSeconds*1000
	}

	note := Note{
		ID:              id,
		Ciphertext:      ciphertext,
		CreatedAtMillis: nowMillis,
		ExpiresAtMillis: expiresAtMillis,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opStore, "insert_failed", err, zap.String("note_id", id))
		return newServiceError(opStore, "insert_failed", err)
	}

	s.logger.Info("note stored",
		zap.String("note_id", id),
		zap.Int64("expires_at_ms", expiresAtMillis))
	return nil
}

// Retrieve returns the ciphertext of the addressed note and destroys it in
// the same serialized step, which is what makes the one-time-read guarantee
// hold. An expired note is deleted and reported as expired; an absent note is
// reported as not found.
func (s *Service) Retrieve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", newServiceError(opRetrieve, "missing_id", nil)
	}

	release := s.locks.Acquire(id)
	defer release()

	var ciphertext string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note Note
		err := tx.Where("id = ?", id).Take(&note).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			s.logError(opRetrieve, "select_failed", err, zap.String("note_id", id))
			return newServiceError(opRetrieve, "select_failed", err)
		}

		nowMillis := s.clock().UTC().UnixMilli()
		if nowMillis > note.ExpiresAtMillis {
			if err := tx.Delete(&Note{}, "id = ?", id).Error; err != nil {
				s.logError(opRetrieve, "expired_delete_failed", err, zap.String("note_id", id))
				return newServiceError(opRetrieve, "expired_delete_failed", err)
			}
			return ErrExpired
		}

		if err := tx.Delete(&Note{}, "id = ?", id).Error; err != nil {
			s.logError(opRetrieve, "delete_failed", err, zap.String("note_id", id))
			return newServiceError(opRetrieve, "delete_failed", err)
		}

		ciphertext = note.Ciphertext
		return nil
	})
	if txErr != nil {
		return "", txErr
	}

	s.logger.Info("note retrieved and destroyed", zap.String("note_id", id))
	return ciphertext, nil
}

// CleanupExpired deletes every note past its expiry instant and reports how
// many rows were reclaimed. Safe to invoke redundantly.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	nowMillis := s.clock().UTC().UnixMilli()

	result := s.db.WithContext(ctx).Where("expires_at_ms < ?", nowMillis).Delete(&Note{})
	if result.Error != nil {
		s.logError(opCleanup, "delete_failed", result.Error)
		return 0, newServiceError(opCleanup, "delete_failed", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired notes reclaimed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("note service error", attrs...)
}
