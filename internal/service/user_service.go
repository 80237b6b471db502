package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/iliyamo/gear-rental/internal/model"
	"github.com/iliyamo/gear-rental/internal/repository"
	"github.com/iliyamo/gear-rental/internal/utils"
)

// UserStore captures the persistence interactions for user accounts.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	List(ctx context.Context, f repository.UserFilter) ([]model.User, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.User, error)
	UpdateTx(ctx context.Context, tx *sql.Tx, u *model.User) error
	CountAdminsTx(ctx context.Context, tx *sql.Tx) (int, error)
}

// UserService registers members, authenticates them and lets admins
// administer accounts.  Whenever an account loses the right to act as it
// did before, all its sessions are revoked in the same transaction as the
// account change.
type UserService struct {
	db         TxBeginner
	users      UserStore
	sessions   *SessionStore
	bcryptCost int
	now        func() time.Time
	logger     *slog.Logger
}

// NewUserService constructs a UserService.
func NewUserService(db TxBeginner, users UserStore, sessions *SessionStore, bcryptCost int, now func() time.Time, logger *slog.Logger) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{db: db, users: users, sessions: sessions, bcryptCost: bcryptCost, now: now, logger: defaultLogger(logger)}
}

func (s *UserService) clock() time.Time { return s.now().UTC().Truncate(time.Second) }

// RegisterInput is a self-registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    *string
	ClubID   string
}

// Register creates an active, unapproved member account.  The member may
// log in once an admin approves it.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (u model.User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "Register")
	defer func() { logResult(ctx, logger.With("user_id", u.ID), err, "register user") }()

	return s.create(ctx, accountInput{
		Email: in.Email, Password: in.Password, Name: in.Name, Phone: in.Phone, ClubID: in.ClubID,
		Role: model.RoleMember,
	}, nil)
}

type accountInput struct {
	Email    string
	Password string
	Name     string
	Phone    *string
	ClubID   string
	Role     model.Role
}

func (s *UserService) create(ctx context.Context, in accountInput, approver *model.UserView) (model.User, error) {
	var vErr ValidationError
	email := repository.NormalizeEmail(in.Email)
	if email == "" {
		vErr.add("email", "email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		vErr.add("email", "invalid email address")
	}
	if len(in.Password) < utils.MinPasswordLength {
		vErr.add("password", "password must be at least 6 characters")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		vErr.add("name", "name is required")
	}
	club := strings.TrimSpace(in.ClubID)
	if club == "" {
		vErr.add("club_id", "club is required")
	}
	if !in.Role.Valid() {
		vErr.add("role", "unknown role")
	}
	if err := vErr.errOrNil(); err != nil {
		return model.User{}, err
	}

	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return model.User{}, err
	}
	now := s.clock()
	u := model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Phone:        trimmed(in.Phone),
		Role:         in.Role,
		ClubID:       club,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if approver != nil {
		u.IsApproved = true
		u.ApprovedBy = &approver.ID
		u.ApprovedAt = &now
	}
	if err := s.users.Create(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return u, nil
}

// LoginResult is a freshly issued session.
type LoginResult struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      model.UserView `json:"user"`
}

// Login checks credentials and issues a session.  The password is checked
// before the account state so that pending and disabled accounts are only
// revealed to someone who knows the password.
func (s *UserService) Login(ctx context.Context, email, password string) (res LoginResult, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "Login")
	defer func() { logResult(ctx, logger.With("user_id", res.User.ID), err, "log in") }()

	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return LoginResult{}, ErrAccountDisabled
	}
	if !u.IsApproved {
		return LoginResult{}, ErrPendingApproval
	}
	token, exp, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: exp, User: u.View()}, nil
}

// Logout ends the session behind token.
func (s *UserService) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Me returns the full account of the caller.
func (s *UserService) Me(ctx context.Context, actor model.UserView) (model.User, error) {
	return s.get(ctx, actor.ID)
}

func (s *UserService) get(ctx context.Context, id uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func (s *UserService) lockTx(ctx context.Context, tx *sql.Tx, id uint64) (model.User, error) {
	u, err := s.users.GetForUpdateTx(ctx, tx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func (s *UserService) updateTx(ctx context.Context, tx *sql.Tx, u *model.User) error {
	err := s.users.UpdateTx(ctx, tx, u)
	if errors.Is(err, repository.ErrEmailExists) {
		return ErrEmailExists
	}
	return err
}

// UserListFilter narrows the admin user listing.
type UserListFilter struct {
	ClubID          string
	Role            string
	Search          string
	IncludeInactive bool
}

// List returns the accounts matching f.  Admin only.
func (s *UserService) List(ctx context.Context, actor model.UserView, f UserListFilter) ([]model.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	uf := repository.UserFilter{
		ClubID:          strings.TrimSpace(f.ClubID),
		Search:          strings.TrimSpace(f.Search),
		IncludeInactive: f.IncludeInactive,
	}
	if strings.TrimSpace(f.Role) != "" {
		role, err := model.ParseRole(f.Role)
		if err != nil {
			return nil, &ValidationError{FieldErrors: map[string]string{"role": "unknown role"}}
		}
		uf.Role = role
	}
	return s.users.List(ctx, uf)
}

// ListPending returns active accounts awaiting approval.  Admin only.
func (s *UserService) ListPending(ctx context.Context, actor model.UserView) ([]model.User, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.users.List(ctx, repository.UserFilter{PendingOnly: true})
}

// Approve lets a pending account log in and records who approved it.
func (s *UserService) Approve(ctx context.Context, actor model.UserView, id uint64) (u model.User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "Approve", "actor_id", actor.ID, "user_id", id)
	defer func() { logResult(ctx, logger, err, "approve user") }()

	if !actor.IsAdmin() {
		return model.User{}, ErrForbidden
	}
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if u, err = s.lockTx(ctx, tx, id); err != nil {
			return err
		}
		if !u.IsActive || u.IsApproved {
			return &ConflictError{Reason: "user is not awaiting approval"}
		}
		now := s.clock()
		u.IsApproved = true
		u.ApprovedBy = &actor.ID
		u.ApprovedAt = &now
		u.UpdatedAt = now
		return s.updateTx(ctx, tx, &u)
	})
	if err != nil {
		return model.User{}, err
	}
	return u, nil
}

// Reject declines a pending registration.  The account is soft deleted
// and the decision is stamped like an approval.
func (s *UserService) Reject(ctx context.Context, actor model.UserView, id uint64) (u model.User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "Reject", "actor_id", actor.ID, "user_id", id)
	defer func() { logResult(ctx, logger, err, "reject user") }()

	if !actor.IsAdmin() {
		return model.User{}, ErrForbidden
	}
	var revoked int64
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if u, err = s.lockTx(ctx, tx, id); err != nil {
			return err
		}
		if !u.IsActive || u.IsApproved {
			return &ConflictError{Reason: "user is not awaiting approval"}
		}
		now := s.clock()
		u.IsActive = false
		u.ApprovedBy = &actor.ID
		u.ApprovedAt = &now
		u.UpdatedAt = now
		if err := s.updateTx(ctx, tx, &u); err != nil {
			return err
		}
		revoked, err = s.sessions.DeleteAllForUserTx(ctx, tx, u.ID)
		return err
	})
	if err != nil {
		return model.User{}, err
	}
	s.sessions.recordRevoked(ctx, u.ID, revoked)
	return u, nil
}

// CreateUserInput is an account created by an admin.
type CreateUserInput struct {
	Email    string
	Password string
	Name     string
	Phone    *string
	ClubID   string
	Role     string
}

// CreateUser creates an already approved account.  The club defaults to
// the admin's own.
func (s *UserService) CreateUser(ctx context.Context, actor model.UserView, in CreateUserInput) (u model.User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "CreateUser", "actor_id", actor.ID)
	defer func() { logResult(ctx, logger.With("user_id", u.ID), err, "create user") }()

	if !actor.IsAdmin() {
		return model.User{}, ErrForbidden
	}
	role := model.RoleMember
	if strings.TrimSpace(in.Role) != "" {
		if role, err = model.ParseRole(in.Role); err != nil {
			return model.User{}, &ValidationError{FieldErrors: map[string]string{"role": "unknown role"}}
		}
	}
	club := in.ClubID
	if strings.TrimSpace(club) == "" {
		club = actor.ClubID
	}
	return s.create(ctx, accountInput{
		Email: in.Email, Password: in.Password, Name: in.Name, Phone: in.Phone, ClubID: club, Role: role,
	}, &actor)
}

// UserPatch is a partial account update.  Nil fields are left untouched.
type UserPatch struct {
	Email    *string
	Name     *string
	Phone    *string
	Role     *string
	ClubID   *string
	IsActive *bool
}

// Update applies p to account id.  A role change or deactivation revokes
// every session of the account.  Admins cannot demote or deactivate
// themselves, and the last active admin cannot be demoted or deactivated.
func (s *UserService) Update(ctx context.Context, actor model.UserView, id uint64, p UserPatch) (u model.User, err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "Update", "actor_id", actor.ID, "user_id", id)
	defer func() { logResult(ctx, logger, err, "update user") }()

	if !actor.IsAdmin() {
		return model.User{}, ErrForbidden
	}
	var revoked int64
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if u, err = s.lockTx(ctx, tx, id); err != nil {
			return err
		}
		before := u
		if err := applyUserPatch(&u, p); err != nil {
			return err
		}
		if id == actor.ID && (u.Role != model.RoleAdmin || !u.IsActive) {
			return &ValidationError{FieldErrors: map[string]string{"id": "admins cannot demote or deactivate themselves"}}
		}
		if before.Role == model.RoleAdmin && before.CanAuthenticate() && (u.Role != model.RoleAdmin || !u.IsActive) {
			n, err := s.users.CountAdminsTx(ctx, tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return &ConflictError{Reason: "cannot demote or deactivate the last active admin"}
			}
		}

		u.UpdatedAt = s.clock()
		if err := s.updateTx(ctx, tx, &u); err != nil {
			return err
		}
		if before.Role != u.Role || (before.IsActive && !u.IsActive) {
			revoked, err = s.sessions.DeleteAllForUserTx(ctx, tx, u.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return model.User{}, err
	}
	if revoked > 0 {
		s.sessions.recordRevoked(ctx, u.ID, revoked)
	}
	return u, nil
}

func applyUserPatch(u *model.User, p UserPatch) error {
	var vErr ValidationError
	if p.Email != nil {
		email := repository.NormalizeEmail(*p.Email)
		if _, perr := mail.ParseAddress(email); email == "" || perr != nil {
			vErr.add("email", "invalid email address")
		}
		u.Email = email
	}
	if p.Name != nil {
		if u.Name = strings.TrimSpace(*p.Name); u.Name == "" {
			vErr.add("name", "name is required")
		}
	}
	if p.Phone != nil {
		u.Phone = trimmed(p.Phone)
	}
	if p.ClubID != nil {
		if u.ClubID = strings.TrimSpace(*p.ClubID); u.ClubID == "" {
			vErr.add("club_id", "club is required")
		}
	}
	if p.Role != nil {
		role, perr := model.ParseRole(*p.Role)
		if perr != nil {
			vErr.add("role", "unknown role")
		}
		u.Role = role
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	return vErr.errOrNil()
}

// Deactivate soft deletes account id and revokes its sessions.
func (s *UserService) Deactivate(ctx context.Context, actor model.UserView, id uint64) error {
	inactive := false
	_, err := s.Update(ctx, actor, id, UserPatch{IsActive: &inactive})
	return err
}

// ResetPassword sets a new password on account id and revokes its
// sessions.
func (s *UserService) ResetPassword(ctx context.Context, actor model.UserView, id uint64, password string) (err error) {
	logger := serviceLogger(ctx, s.logger, "UserService", "ResetPassword", "actor_id", actor.ID, "user_id", id)
	defer func() { logResult(ctx, logger, err, "reset password") }()

	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if len(password) < utils.MinPasswordLength {
		return &ValidationError{FieldErrors: map[string]string{"password": "password must be at least 6 characters"}}
	}
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	var revoked int64
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		u, err := s.lockTx(ctx, tx, id)
		if err != nil {
			return err
		}
		u.PasswordHash = hash
		u.UpdatedAt = s.clock()
		if err := s.updateTx(ctx, tx, &u); err != nil {
			return err
		}
		revoked, err = s.sessions.DeleteAllForUserTx(ctx, tx, u.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.sessions.recordRevoked(ctx, id, revoked)
	return nil
}

// Sessions lists the live sessions of account id.  Admin only.
func (s *UserService) Sessions(ctx context.Context, actor model.UserView, id uint64) ([]model.Session, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	return s.sessions.ListForUser(ctx, id)
}

// RevokeSessions ends every session of account id.  Admin only.
func (s *UserService) RevokeSessions(ctx context.Context, actor model.UserView, id uint64) (int64, error) {
	if !actor.IsAdmin() {
		return 0, ErrForbidden
	}
	if _, err := s.get(ctx, id); err != nil {
		return 0, err
	}
	return s.sessions.DeleteAllForUser(ctx, id)
}

// RevokeSession ends one session of account id.  Admin only.
func (s *UserService) RevokeSession(ctx context.Context, actor model.UserView, id, sessionID uint64) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	return s.sessions.DeleteOne(ctx, id, sessionID)
}
