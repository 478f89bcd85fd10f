package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/supermarket-backend/pkg/config"
	"github.com/angelmondragon/supermarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/supermarket-backend/pkg/db/models"
	"github.com/angelmondragon/supermarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/security"
)

func validRegistration() RegisterRequest {
	return RegisterRequest{
		Username: "jdoe",
		Email:    "JDoe@Example.com",
		Password: "secret1",
		Address:  "12 Harbour Rd",
		Contact:  "555-0199",
	}
}

func TestRegisterCreatesShopper(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewRegisterService(RegisterServiceParams{TxRunner: client, PasswordConfig: config.PasswordConfig{}})
	require.NoError(t, err)

	dto, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	assert.Equal(t, "jdoe@example.com", dto.Email)
	assert.Equal(t, enums.UserRoleUser, dto.Role)
	assert.False(t, dto.IsDisabled)

	var stored models.User
	require.NoError(t, client.DB().First(&stored, "id = ?", dto.ID).Error)
	ok, err := security.VerifyPassword("secret1", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewRegisterService(RegisterServiceParams{TxRunner: client})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), validRegistration())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestRegisterValidatesInput(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewRegisterService(RegisterServiceParams{TxRunner: client})
	require.NoError(t, err)

	short := validRegistration()
	short.Password = "12345"
	_, err = svc.Register(context.Background(), short)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	blank := validRegistration()
	blank.Address = "   "
	_, err = svc.Register(context.Background(), blank)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAdminRegisterCreatesAdmin(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewAdminRegisterService(RegisterServiceParams{TxRunner: client})
	require.NoError(t, err)

	dto, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAdmin, dto.Role)
}

func TestRegisterListsEveryMissingField(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewRegisterService(RegisterServiceParams{TxRunner: client})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterRequest{Email: " ", Username: "jdoe", Password: "123"})
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	require.Equal(t, map[string]string{
		"email":    "is required",
		"address":  "is required",
		"contact":  "is required",
		"password": security.ErrPasswordTooShort.Error(),
	}, typed.Details())
}

func TestRegisterTrimsProfileFields(t *testing.T) {
	client := dbtest.Open(t)
	svc, err := NewRegisterService(RegisterServiceParams{TxRunner: client})
	require.NoError(t, err)

	req := validRegistration()
	req.Username = "  jdoe  "
	dto, err := svc.Register(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", dto.Username)
}

func TestNewRegisterServiceNeedsTransactions(t *testing.T) {
	_, err := NewRegisterService(RegisterServiceParams{})
	require.Error(t, err)
}
