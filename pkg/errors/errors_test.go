package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMetadataForShopperFacingCodes(t *testing.T) {
	cases := map[Code]Metadata{
		CodeValidation:        {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", EchoMessage: true, DetailsAllowed: true},
		CodeInsufficientStock: {HTTPStatus: http.StatusConflict, PublicMessage: "insufficient stock", EchoMessage: true, DetailsAllowed: true},
		CodeEmptyCart:         {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "cart is empty", EchoMessage: true},
		CodePartialCheckout:   {HTTPStatus: http.StatusAccepted, PublicMessage: "order recorded with missing lines", EchoMessage: true, DetailsAllowed: true},
		CodeRateLimit:         {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", EchoMessage: true},
		CodeDependency:        {HTTPStatus: http.StatusServiceUnavailable, PublicMessage: "dependency unavailable", DetailsAllowed: true, Retryable: true},
		CodeInternal:          {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", Retryable: true},
	}
	for code, want := range cases {
		require.Equal(t, want, MetadataFor(code), code)
	}
}

func TestEveryCodeHasMetadata(t *testing.T) {
	for code, m := range catalog {
		require.NotZero(t, m.HTTPStatus, code)
		require.NotEmpty(t, m.PublicMessage, code)
	}
	require.Equal(t, catalog[CodeInternal], MetadataFor("SOMETHING_UNKNOWN"))
}

func TestInternalMessagesStayPrivate(t *testing.T) {
	for _, code := range []Code{CodeInternal, CodeDependency} {
		require.False(t, MetadataFor(code).EchoMessage, code)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "reserve stock").WithDetails(map[string]any{"product_id": "p1"})

	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, CodeDependency, wrapped.Code())
	require.Equal(t, "reserve stock", wrapped.Message())
	require.Equal(t, "DEPENDENCY_ERROR: reserve stock: connection refused", wrapped.Error())
	require.NotNil(t, wrapped.Details())

	plain := New(CodeValidation, "missing name")
	require.Nil(t, plain.Details())
	require.Nil(t, plain.Unwrap())
	require.Equal(t, "VALIDATION_ERROR: missing name", plain.Error())
}

func TestNilErrorIsInternal(t *testing.T) {
	var e *Error
	require.Equal(t, CodeInternal, e.Code())
	require.Empty(t, e.Error())
	require.Nil(t, e.WithDetails("x"))
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	outer := fmt.Errorf("reserve: %w", New(CodeInsufficientStock, "only 2 left"))
	require.True(t, IsCode(outer, CodeInsufficientStock))
	require.False(t, IsCode(outer, CodeNotFound))
	require.False(t, IsCode(nil, CodeInternal))
	require.Nil(t, As(nil))
	require.Nil(t, As(stdErrors.New("plain")))
}

func TestDumpCollectsChainAndPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "products_name_key", TableName: "products", Message: "duplicate key"}
	d := Dump(Wrap(CodeConflict, fmt.Errorf("insert product: %w", pgErr), "product exists"))

	require.Equal(t, CodeConflict, d.Code)
	require.Len(t, d.Chain, 3)
	require.Equal(t, "23505", d.PGCode)
	require.Equal(t, "products_name_key", d.PGConstraint)
	require.Equal(t, "products", d.PGTable)

	require.Equal(t, ErrorDump{}, Dump(nil))
}
