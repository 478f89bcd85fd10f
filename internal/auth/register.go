package auth

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/internal/users"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/security"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// UserStore is what enrollment needs from the users repository.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

// RegisterService creates accounts. Public sign-up and the non-prod admin
// route are the same flow with a different role.
type RegisterService interface {
	Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error)
}

type RegisterServiceParams struct {
	TxRunner       txRunner
	PasswordConfig config.PasswordConfig
	// RepoFactory binds a users repository to the enrollment transaction.
	// Nil uses users.NewRepository.
	RepoFactory func(tx *gorm.DB) UserStore
}

type enrollment struct {
	tx       txRunner
	password config.PasswordConfig
	store    func(tx *gorm.DB) UserStore
	role     enums.UserRole
}

// NewRegisterService enrolls shoppers.
func NewRegisterService(params RegisterServiceParams) (RegisterService, error) {
	return newEnrollment(params, enums.UserRoleUser)
}

// NewAdminRegisterService enrolls admins. Only mount it outside production.
func NewAdminRegisterService(params RegisterServiceParams) (RegisterService, error) {
	return newEnrollment(params, enums.UserRoleAdmin)
}

func newEnrollment(params RegisterServiceParams, role enums.UserRole) (*enrollment, error) {
	if params.TxRunner == nil {
		return nil, errors.New("enrollment needs a transaction runner")
	}
	store := params.RepoFactory
	if store == nil {
		store = func(tx *gorm.DB) UserStore { return users.NewRepository(tx) }
	}
	return &enrollment{tx: params.TxRunner, password: params.PasswordConfig, store: store, role: role}, nil
}

// accountFields trims req and lists every blank field in one error.
func accountFields(req RegisterRequest) (users.CreateUserDTO, error) {
	account := users.CreateUserDTO{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Address:  strings.TrimSpace(req.Address),
		Contact:  strings.TrimSpace(req.Contact),
	}
	missing := map[string]string{}
	for field, value := range map[string]string{
		"username": account.Username,
		"email":    account.Email,
		"address":  account.Address,
		"contact":  account.Contact,
	} {
		if value == "" {
			missing[field] = "is required"
		}
	}
	if err := security.CheckPasswordPolicy(req.Password); err != nil {
		missing["password"] = err.Error()
	}
	if len(missing) > 0 {
		return account, pkgerrors.New(pkgerrors.CodeValidation, "registration is incomplete").WithDetails(missing)
	}
	return account, nil
}

func errEmailTaken() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
}

func (e *enrollment) Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error) {
	account, err := accountFields(req)
	if err != nil {
		return nil, err
	}
	account.Role = e.role
	if account.PasswordHash, err = security.HashPassword(req.Password, e.password); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	var enrolled *models.User
	err = e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		store := e.store(tx)
		_, err := store.FindByEmail(ctx, account.Email)
		switch {
		case err == nil:
			return errEmailTaken()
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "look up email")
		}
		// The unique index still decides two sign-ups racing for one email.
		enrolled, err = store.Create(ctx, account)
		if db.IsUniqueViolation(err, "") {
			return errEmailTaken()
		}
		return err
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create account")
		}
		return nil, err
	}
	return users.FromModel(enrolled), nil
}
