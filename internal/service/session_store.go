package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/gear-rental/internal/metrics"
	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/repository"
	"github.com/iliyamo/gear-rental/internal/utils"
)

// DefaultSessionTTL is the sliding lifetime of a session.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionRepository captures the persistence interactions for sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *model.Session) error
	GetByHash(ctx context.Context, tokenHash string) (model.Session, error)
	Extend(ctx context.Context, id uint64, expiresAt time.Time) error
	DeleteByHash(ctx context.Context, tokenHash string) error
	DeleteByID(ctx context.Context, userID, id uint64) (int64, error)
	DeleteAllForUser(ctx context.Context, userID uint64) (int64, error)
	DeleteAllForUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time, userID *uint64) (int64, error)
	ListForUser(ctx context.Context, userID uint64, now time.Time) ([]model.Session, error)
}

// UserLookup resolves the owner of a session.
type UserLookup interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// SessionStore maps opaque tokens to user identities with a sliding
// expiry.  Tokens are 256-bit random values; only their SHA-256 hash is
// persisted.
type SessionStore struct {
	sessions SessionRepository
	users    UserLookup
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
	logger   *slog.Logger
}

// NewSessionStore constructs a SessionStore.  A nil now uses time.Now and a
// non-positive ttl uses DefaultSessionTTL.
func NewSessionStore(sessions SessionRepository, users UserLookup, ttl time.Duration, now func() time.Time, logger *slog.Logger) *SessionStore {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: sessions,
		users:    users,
		ttl:      ttl,
		now:      now,
		newToken: utils.NewSessionToken,
		logger:   defaultLogger(logger),
	}
}

func (s *SessionStore) clock() time.Time { return s.now().UTC().Truncate(time.Second) }

// Create issues a new session for userID and returns the raw token with
// its expiry.  The user's already expired sessions are purged first.
func (s *SessionStore) Create(ctx context.Context, userID uint64) (token string, expiresAt time.Time, err error) {
	logger := serviceLogger(ctx, s.logger, "SessionStore", "Create", "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "session creation failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	now := s.clock()
	purged, err := s.sessions.DeleteExpired(ctx, now, &userID)
	if err != nil {
		return "", time.Time{}, err
	}
	metrics.AddSessionsRemoved("expired", purged)

	token, err = s.newToken()
	if err != nil {
		return "", time.Time{}, err
	}
	sess := model.Session{
		UserID:    userID,
		TokenHash: utils.HashSessionToken(token),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err = s.sessions.Create(ctx, &sess); err != nil {
		return "", time.Time{}, err
	}
	metrics.IncSessionsCreated()
	logger.DebugContext(ctx, "session created", "session_id", sess.ID, "purged", purged)
	return token, sess.ExpiresAt, nil
}

// Validate resolves token to the identity of its owner and slides the
// expiry forward.  An unknown token yields ErrInvalidSession.  An expired
// session is deleted and yields ErrSessionExpired.  A session whose owner
// is inactive or unapproved yields ErrInvalidSession and is kept.
func (s *SessionStore) Validate(ctx context.Context, token string) (model.UserView, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.UserView{}, ErrInvalidSession
	}
	hash := utils.HashSessionToken(token)

	sess, err := s.sessions.GetByHash(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return model.UserView{}, ErrInvalidSession
	}
	if err != nil {
		return model.UserView{}, err
	}

	now := s.clock()
	if sess.Expired(now) {
		if err := s.sessions.DeleteByHash(ctx, hash); err != nil {
			return model.UserView{}, err
		}
		metrics.AddSessionsRemoved("expired", 1)
		serviceLogger(ctx, s.logger, "SessionStore", "Validate", "user_id", sess.UserID, "session_id", sess.ID).
			DebugContext(ctx, "expired session removed")
		return model.UserView{}, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.UserView{}, ErrInvalidSession
	}
	if err != nil {
		return model.UserView{}, err
	}
	if !user.CanAuthenticate() {
		return model.UserView{}, ErrInvalidSession
	}

	if err := s.sessions.Extend(ctx, sess.ID, now.Add(s.ttl)); err != nil {
		return model.UserView{}, err
	}
	return user.View(), nil
}

// Delete removes the session behind token.  It is idempotent.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if err := s.sessions.DeleteByHash(ctx, utils.HashSessionToken(token)); err != nil {
		return err
	}
	metrics.AddSessionsRemoved("logout", 1)
	return nil
}

// DeleteAllForUser removes every session of userID and returns how many
// were removed.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID uint64) (int64, error) {
	n, err := s.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.recordRevoked(ctx, userID, n)
	return n, nil
}

// DeleteAllForUserTx removes every session of userID inside tx.  The
// caller reports the count with recordRevoked once tx has committed.
func (s *SessionStore) DeleteAllForUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (int64, error) {
	return s.sessions.DeleteAllForUserTx(ctx, tx, userID)
}

func (s *SessionStore) recordRevoked(ctx context.Context, userID uint64, n int64) {
	metrics.AddSessionsRemoved("revoked", n)
	serviceLogger(ctx, s.logger, "SessionStore", "DeleteAllForUser", "user_id", userID).
		InfoContext(ctx, "sessions revoked", "count", n)
}

// DeleteOne removes a single session of userID by its id.
func (s *SessionStore) DeleteOne(ctx context.Context, userID, sessionID uint64) error {
	n, err := s.sessions.DeleteByID(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	metrics.AddSessionsRemoved("revoked", n)
	return nil
}

// ListForUser returns the live sessions of userID.
func (s *SessionStore) ListForUser(ctx context.Context, userID uint64) ([]model.Session, error) {
	return s.sessions.ListForUser(ctx, userID, s.clock())
}

// CleanupExpired deletes every session past its expiry, optionally only
// those of one user.
func (s *SessionStore) CleanupExpired(ctx context.Context, userID *uint64) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.clock(), userID)
	if err != nil {
		return 0, err
	}
	metrics.AddSessionsRemoved("cleanup", n)
	return n, nil
}

// RunCleanup sweeps expired sessions immediately and then every interval
// until ctx is cancelled.
func (s *SessionStore) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	logger := serviceLogger(ctx, s.logger, "SessionStore", "RunCleanup", "interval", interval.String())
	sweep := func() {
		n, err := s.CleanupExpired(ctx, nil)
		if err != nil {
			if ctx.Err() == nil {
				logger.ErrorContext(ctx, "session cleanup failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.InfoContext(ctx, "expired sessions removed", "count", n)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "session cleanup stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
