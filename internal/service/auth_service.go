package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/auth"
	"github.com/civicworks/civic-issues/internal/config"
	"github.com/civicworks/civic-issues/internal/domain"
	"github.com/civicworks/civic-issues/internal/repository"
	apperrors "github.com/civicworks/civic-issues/pkg/util/errorutil"
)

// AuthService coordinates registration, login and credential verification.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates repo requirements for auth service.
type AuthDependencies struct {
	UserRepo repository.UserRepository
	Logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

// AccountInput describes a new account.
type AccountInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
	WardID   *string
}

// Session is the result of a successful registration or login.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// Register creates a citizen account and signs it in.
func (s *AuthService) Register(ctx context.Context, input AccountInput) (*Session, error) {
	input.Role = domain.RoleCitizen
	user, err := s.createAccount(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.issueSession(user)
}

// CreateAccount lets an admin provision an account with any role.
func (s *AuthService) CreateAccount(ctx context.Context, actor domain.Actor, input AccountInput) (*domain.User, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("only admins may create accounts", map[string]any{
			"role":           actor.Role,
			"required_roles": []domain.Role{domain.RoleAdmin},
		})
	}
	if !input.Role.Valid() {
		return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": input.Role})
	}
	user, err := s.createAccount(ctx, input)
	if err != nil {
		return nil, err
	}
	s.logger.Info("account created",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.String("created_by", actor.ID))
	return user, nil
}

// EnsureAdmin creates the bootstrap admin when no account uses email yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, name, email, password string) error {
	if strings.TrimSpace(email) == "" {
		return nil
	}
	if _, err := s.users.GetByEmail(ctx, normalizeEmail(email)); err == nil {
		return nil
	} else if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		return err
	}
	user, err := s.createAccount(ctx, AccountInput{Name: name, Email: email, Password: password, Role: domain.RoleAdmin})
	if err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("user_id", user.ID))
	return nil
}

func (s *AuthService) createAccount(ctx context.Context, input AccountInput) (*domain.User, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if name == "" {
		return nil, apperrors.NewMissingField("name", "name is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.NewValidationError("invalid email", map[string]any{"email": input.Email})
	}
	if err := auth.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         input.Role,
		WardID:       input.WardID,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login authenticates by email and password.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.Active {
		return nil, apperrors.NewUnauthorized("account disabled")
	}
	return s.issueSession(user)
}

// ListUsers lists accounts for supervisors and admins picking assignees.
func (s *AuthService) ListUsers(ctx context.Context, actor domain.Actor, filter repository.UserFilter) ([]domain.User, error) {
	if actor.Role != domain.RoleSupervisor && actor.Role != domain.RoleAdmin {
		return nil, apperrors.NewForbidden("role may not list accounts", map[string]any{
			"role":           actor.Role,
			"required_roles": []domain.Role{domain.RoleSupervisor, domain.RoleAdmin},
		})
	}
	for _, role := range filter.Roles {
		if !role.Valid() {
			return nil, apperrors.NewValidationError("unknown role", map[string]any{"role": role})
		}
	}
	return s.users.List(ctx, filter)
}

// Me returns the stored account for userID.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// VerifyCredential resolves a bearer token to the identity of an active
// account. A bad token or an unknown or disabled account is AUTH_ERROR;
// storage failures are returned as they are so callers can retry.
func (s *AuthService) VerifyCredential(ctx context.Context, credential string) (domain.Identity, error) {
	claims, err := s.tokenMgr.ParseToken(credential)
	if err != nil {
		return domain.Identity{}, apperrors.NewAuthError("invalid credential", err)
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeNotFound) {
			return domain.Identity{}, apperrors.NewAuthError("unknown account", err)
		}
		return domain.Identity{}, fmt.Errorf("load account: %w", err)
	}
	if !user.Active {
		return domain.Identity{}, apperrors.NewAuthError("account disabled", nil)
	}
	return domain.Identity{UserID: user.ID, Role: user.Role}, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) issueSession(user *domain.User) (*Session, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
