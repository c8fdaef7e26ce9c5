package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cinder/backend/internal/locking"
	"github.com/MarcoPoloResearchLab/cinder/backend/internal/token"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTTL bounds how long a chat lives when the creator supplies no
// explicit TTL.
const DefaultTTL = 24 * time.Hour

var (
	errMissingDatabase = errors.New("database handle is required")

	// ErrNotFound indicates the chat never existed or was already destroyed.
	ErrNotFound = errors.New("chat: chat not found")
	// ErrExpired indicates the chat outlived its expiry instant. The row is
	// deleted as part of detection; subsequent access reports ErrNotFound.
	ErrExpired = errors.New("chat: chat expired")
	// ErrInvalidToken indicates the presented token matches neither role.
	ErrInvalidToken = errors.New("chat: invalid token")
	// ErrSessionMismatch indicates the matched role is already bound to a
	// different client session.
	ErrSessionMismatch = errors.New("chat: session mismatch")

	noOpLogger = zap.NewNop()
)

const (
	opServiceNew = "chat.service.new"
	opCreate     = "chat.create"
	opGet        = "chat.get"
	opMessage    = "chat.message"
	opDestroy    = "chat.destroy"
	opCleanup    = "chat.cleanup"
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

// ServiceConfig describes the dependencies of the chat store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Logger     *zap.Logger
	DefaultTTL time.Duration
}

// Service owns the lifecycle of two-party ephemeral chats: token-scoped role
// access, first-use session binding, a single overwritable message slot, and
// expiry. All operations against the same chat identifier execute strictly
// serially.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	defaultTTL time.Duration
	locks      *locking.KeyedMutex
}

// NewService validates the configuration and constructs the chat store.
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

	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		logger:     logger,
		defaultTTL: defaultTTL,
		locks:      locking.NewKeyedMutex(),
	}, nil
}

// CreateParams captures the input for a new chat. Tokens arrive raw and are
// digested before storage. A creator session, when supplied, is bound
// immediately so the creating browser owns the creator role from the start.
type CreateParams struct {
	ID               string
	CreatorToken     string
	RecipientToken   string
	CreatorSessionID string
	TTLSeconds       *int64
	InitialMessage   string
}

// CreateResult reports the stored chat.
type CreateResult struct {
	ID              string
	ExpiresAtMillis int64
}

// Create inserts the chat row, optionally pre-seeded with an initial message
// authored by the creator.
func (s *Service) Create(ctx context.Context, params CreateParams) (CreateResult, error) {
	if params.ID == "" {
		return CreateResult{}, newServiceError(opCreate, "missing_id", nil)
	}
	if params.CreatorToken == "" || params.RecipientToken == "" {
		return CreateResult{}, newServiceError(opCreate, "missing_token", nil)
	}
	if params.CreatorToken == params.RecipientToken {
		return CreateResult{}, newServiceError(opCreate, "identical_tokens", nil)
	}

	release := s.locks.Acquire(params.ID)
	defer release()

	nowMillis := s.clock().UTC().UnixMilli()
	expiresAtMillis := nowMillis + s.defaultTTL.Milliseconds()
	if params.TTLSeconds != nil && *params.TTLSeconds > 0 {
		expiresAtMillis = nowMillis + *params.TTLSeconds*1000
	}

	record := Chat{
		ID:                 params.ID,
		CreatorTokenHash:   token.Digest(params.CreatorToken),
		RecipientTokenHash: token.Digest(params.RecipientToken),
		CreatorSessionHash: token.Digest(params.CreatorSessionID),
		CreatedAtMillis:    nowMillis,
		ExpiresAtMillis:    expiresAtMillis,
	}
	if params.InitialMessage != "" {
		record.CurrentMessage = params.InitialMessage
		record.CurrentSender = string(RoleCreator)
		record.MessageAtMillis = nowMillis
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("chat_id", params.ID))
		return CreateResult{}, newServiceError(opCreate, "insert_failed", err)
	}

	s.logger.Info("chat created",
		zap.String("chat_id", params.ID),
		zap.Int64("expires_at_ms", expiresAtMillis),
		zap.Bool("initial_message", params.InitialMessage != ""))
	return CreateResult{ID: params.ID, ExpiresAtMillis: expiresAtMillis}, nil
}

// View is the role-scoped status returned to an authenticated party. The
// ciphertext is returned regardless of who authored it so clients can render
// sent versus received state.
type View struct {
	Role            Role
	ExpiresAtMillis int64
	HasMessage      bool
	IsMyMessage     bool
	MessageRead     bool
	Ciphertext      string
	MessageAtMillis int64
}

// Get authenticates the presented token, enforces or establishes the role's
// session binding, and returns the current slot state. When the viewer is the
// non-sending party and the message is unread it is marked read.
func (s *Service) Get(ctx context.Context, id string, rawToken string, sessionID string) (View, error) {
	if id == "" || rawToken == "" || sessionID == "" {
		return View{}, newServiceError(opGet, "missing_input", nil)
	}

	release := s.locks.Acquire(id)
	defer release()

	tokenDigest := token.Digest(rawToken)
	sessionDigest := token.Digest(sessionID)

	var view View
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.loadActive(tx, opGet, id)
		if err != nil {
			return err
		}

		role, ok := matchRole(record, tokenDigest)
		if !ok {
			return ErrInvalidToken
		}

		if err := s.enforceSessionBinding(tx, record, role, sessionDigest, true); err != nil {
			return err
		}

		hasMessage := record.hasMessage()
		isMyMessage := hasMessage && record.CurrentSender == string(role)
		messageRead := record.MessageRead

		if hasMessage && !isMyMessage && !messageRead {
			if err := tx.Model(&Chat{}).Where("id = ?", record.ID).
				Update("message_read", true).Error; err != nil {
				s.logError(opGet, "mark_read_failed", err, zap.String("chat_id", id))
				return newServiceError(opGet, "mark_read_failed", err)
			}
			messageRead = true
		}

		view = View{
			Role:            role,
			ExpiresAtMillis: record.ExpiresAtMillis,
			HasMessage:      hasMessage,
			IsMyMessage:     isMyMessage,
			MessageRead:     messageRead,
			Ciphertext:      record.CurrentMessage,
			MessageAtMillis: record.MessageAtMillis,
		}
		return nil
	})
	if txErr != nil {
		return View{}, txErr
	}

	return view, nil
}

// Message overwrites the single message slot as the authenticated role. The
// previous message, whoever authored it, is gone once this returns. The
// session guard matches the get path: an already-bound role must present its
// bound session, an unbound role binds on first use.
func (s *Service) Message(ctx context.Context, id string, rawToken string, sessionID string, ciphertext string) (int64, error) {
	if id == "" || rawToken == "" || sessionID == "" {
		return 0, newServiceError(opMessage, "missing_input", nil)
	}
	if ciphertext == "" {
		return 0, newServiceError(opMessage, "missing_ciphertext", nil)
	}

	release := s.locks.Acquire(id)
	defer release()

	tokenDigest := token.Digest(rawToken)
	sessionDigest := token.Digest(sessionID)

	var messageAtMillis int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.loadActive(tx, opMessage, id)
		if err != nil {
			return err
		}

		role, ok := matchRole(record, tokenDigest)
		if !ok {
			return ErrInvalidToken
		}

		if err := s.enforceSessionBinding(tx, record, role, sessionDigest, true); err != nil {
			return err
		}

		messageAtMillis = s.clock().UTC().UnixMilli()
		updates := map[string]interface{}{
			"current_message": ciphertext,
			"current_sender":  string(role),
			"message_at_ms":   messageAtMillis,
			"message_read":    false,
		}
		if err := tx.Model(&Chat{}).Where("id = ?", record.ID).Updates(updates).Error; err != nil {
			s.logError(opMessage, "update_failed", err, zap.String("chat_id", id))
			return newServiceError(opMessage, "update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}

	s.logger.Info("chat message replaced", zap.String("chat_id", id))
	return messageAtMillis, nil
}

// Destroy deletes the chat on behalf of either party. A presented session
// must match the role's binding when one exists; destruction never binds a
// session itself.
func (s *Service) Destroy(ctx context.Context, id string, rawToken string, sessionID string) error {
	if id == "" || rawToken == "" {
		return newServiceError(opDestroy, "missing_input", nil)
	}

	release := s.locks.Acquire(id)
	defer release()

	tokenDigest := token.Digest(rawToken)
	sessionDigest := token.Digest(sessionID)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.loadActive(tx, opDestroy, id)
		if err != nil {
			return err
		}

		role, ok := matchRole(record, tokenDigest)
		if !ok {
			return ErrInvalidToken
		}

		if sessionDigest != "" {
			bound := record.sessionHash(role)
			if bound != "" && bound != sessionDigest {
				return ErrSessionMismatch
			}
		}

		if err := tx.Delete(&Chat{}, "id = ?", record.ID).Error; err != nil {
			s.logError(opDestroy, "delete_failed", err, zap.String("chat_id", id))
			return newServiceError(opDestroy, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	s.logger.Info("chat destroyed", zap.String("chat_id", id))
	return nil
}

// CleanupExpired deletes every chat past its expiry instant and reports how
// many rows were reclaimed. Safe to invoke redundantly.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	nowMillis := s.clock().UTC().UnixMilli()

	result := s.db.WithContext(ctx).Where("expires_at_ms < ?", nowMillis).Delete(&Chat{})
	if result.Error != nil {
		s.logError(opCleanup, "delete_failed", result.Error)
		return 0, newServiceError(opCleanup, "delete_failed", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired chats reclaimed", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// loadActive fetches the addressed chat and performs the access-triggered
// expiry sweep: an expired row is deleted inside the same transaction and
// reported as expired.
func (s *Service) loadActive(tx *gorm.DB, operation string, id string) (*Chat, error) {
	var record Chat
	err := tx.Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("chat_id", id))
		return nil, newServiceError(operation, "select_failed", err)
	}

	nowMillis := s.clock().UTC().UnixMilli()
	if nowMillis > record.ExpiresAtMillis {
		if err := tx.Delete(&Chat{}, "id = ?", id).Error; err != nil {
			s.logError(operation, "expired_delete_failed", err, zap.String("chat_id", id))
			return nil, newServiceError(operation, "expired_delete_failed", err)
		}
		return nil, ErrExpired
	}

	return &record, nil
}

// enforceSessionBinding rejects a bound role presented with a different
// session digest and, when bindOnFirstUse is set, binds an unbound role to
// the presented session. First use wins; a binding never changes afterwards.
func (s *Service) enforceSessionBinding(tx *gorm.DB, record *Chat, role Role, sessionDigest string, bindOnFirstUse bool) error {
	bound := record.sessionHash(role)
	if bound != "" {
		if bound != sessionDigest {
			return ErrSessionMismatch
		}
		return nil
	}

	if !bindOnFirstUse || sessionDigest == "" {
		return nil
	}

	if err := tx.Model(&Chat{}).Where("id = ?", record.ID).
		Update(sessionColumn(role), sessionDigest).Error; err != nil {
		s.logError(opGet, "session_bind_failed", err, zap.String("chat_id", record.ID))
		return newServiceError(opGet, "session_bind_failed", err)
	}

	if role == RoleCreator {
		record.CreatorSessionHash = sessionDigest
	} else {
		record.RecipientSessionHash = sessionDigest
	}
	return nil
}

func matchRole(record *Chat, tokenDigest string) (Role, bool) {
	switch tokenDigest {
	case record.CreatorTokenHash:
		return RoleCreator, true
	case record.RecipientTokenHash:
		return RoleRecipient, true
	default:
		return "", false
	}
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
	s.logger.Error("chat service error", attrs...)
}
