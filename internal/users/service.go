package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox"
	"github.com/angelmondragon/supermarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/supermarket-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AdminService is the admin-facing user management surface. The acting admin
// can never act on their own account.
type AdminService interface {
	List(ctx context.Context, actor outbox.ActorRef, params pagination.Params) (*UserPage, error)
	Get(ctx context.Context, id uuid.UUID) (*UserDTO, error)
	SetDisabled(ctx context.Context, actor outbox.ActorRef, id uuid.UUID, disabled bool) (*UserDTO, error)
	ChangeRole(ctx context.Context, actor outbox.ActorRef, id uuid.UUID, role enums.UserRole) (*UserDTO, error)
}

type adminService struct {
	repo   *Repository
	tx     txRunner
	events outbox.Emitter
	logg   *logger.Logger
}

// NewAdminService builds the admin user service.
func NewAdminService(repo *Repository, tx txRunner, events outbox.Emitter, logg *logger.Logger) (AdminService, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &adminService{repo: repo, tx: tx, events: events, logg: logg}, nil
}

func (s *adminService) List(ctx context.Context, actor outbox.ActorRef, params pagination.Params) (*UserPage, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	params.Limit = limit
	rows, err := s.repo.ListExcept(ctx, actor.UserID, params)
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}
	return toUserPage(rows, limit), nil
}

func (s *adminService) Get(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapFindError(err)
	}
	return FromModel(user), nil
}

// SetDisabled disables or re-enables an account. Repeating the current state
// is a no-op and queues nothing.
func (s *adminService) SetDisabled(ctx context.Context, actor outbox.ActorRef, id uuid.UUID, disabled bool) (*UserDTO, error) {
	if actor.UserID == id {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "you cannot change the status of your own account")
	}
	eventType := enums.EventUserEnabled
	if disabled {
		eventType = enums.EventUserDisabled
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByID(ctx, id); err != nil {
			return mapFindError(err)
		}
		changed, err := repo.SetDisabled(ctx, id, disabled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update user status")
		}
		if !changed {
			return nil
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateUser,
			AggregateID:   id,
			Actor:         &actor,
			Data: payloads.UserStatusChangedEvent{
				UserID:     id,
				IsDisabled: disabled,
				ChangedBy:  actor.UserID,
			},
		})
	})
	if err != nil {
		return nil, asDependency(err, "update user status")
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"target_user_id": id.String(), "disabled": disabled})
		s.logg.Info(ctx, "users.status_changed")
	}
	return s.Get(ctx, id)
}

func (s *adminService) ChangeRole(ctx context.Context, actor outbox.ActorRef, id uuid.UUID, role enums.UserRole) (*UserDTO, error) {
	if !role.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "role must be admin or user")
	}
	if actor.UserID == id && role != enums.UserRoleAdmin {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "you cannot remove your own admin role")
	}
	if err := s.repo.SetRole(ctx, id, role); err != nil {
		return nil, mapFindError(err)
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"target_user_id": id.String(), "role": role.String()})
		s.logg.Info(ctx, "users.role_changed")
	}
	return s.Get(ctx, id)
}

func mapFindError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
}

func asDependency(err error, action string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
