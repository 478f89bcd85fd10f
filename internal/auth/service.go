package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/internal/users"
	pkgAuth "github.com/angelmondragon/supermarket-backend/pkg/auth"
	"github.com/angelmondragon/supermarket-backend/pkg/auth/session"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/security"
)

// Service signs shoppers and admins in.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

type accountStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

type sessionOpener interface {
	Open(ctx context.Context, accessID string) (string, error)
}

type ServiceParams struct {
	Accounts accountStore
	Sessions sessionOpener
	JWT      config.JWTConfig
	Password config.PasswordConfig
}

type loginService struct {
	accounts accountStore
	sessions sessionOpener
	jwt      config.JWTConfig
	now      func() time.Time
	// decoy is checked when no account matches the email, so an unknown
	// email costs the same argon2 run as a wrong password.
	decoy string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Accounts == nil || params.Sessions == nil {
		return nil, errors.New("login needs an account store and a session opener")
	}
	decoy, err := security.HashPassword(uuid.NewString(), params.Password)
	if err != nil {
		return nil, err
	}
	return &loginService{
		accounts: params.Accounts,
		sessions: params.Sessions,
		jwt:      params.JWT,
		now:      time.Now,
		decoy:    decoy,
	}, nil
}

func errBadCredentials() error {
	return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")
}

func (s *loginService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.verify(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if user.IsDisabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "account disabled")
	}

	now := s.now().UTC()
	accessID := session.NewAccessID()
	access, err := pkgAuth.MintAccessToken(s.jwt, now, pkgAuth.AccessTokenPayload{UserID: user.ID, Role: user.Role, JTI: accessID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint access token")
	}
	refresh, err := s.sessions.Open(ctx, accessID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open session")
	}
	if err := s.accounts.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record last login")
	}
	user.LastLoginAt = &now

	return &LoginResponse{AccessToken: access, RefreshToken: refresh, User: users.FromModel(user)}, nil
}

// verify gives an unknown email, a blank email and a wrong password the same
// answer.
func (s *loginService) verify(ctx context.Context, email, password string) (*models.User, error) {
	var user *models.User
	hash := s.decoy
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		found, err := s.accounts.FindByEmail(ctx, email)
		switch {
		case err == nil:
			user, hash = found, found.PasswordHash
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up account")
		}
	}
	matched, err := security.VerifyPassword(password, hash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !matched || user == nil {
		return nil, errBadCredentials()
	}
	return user, nil
}
