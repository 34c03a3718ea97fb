package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type contactInput struct {
	Name  string          `json:"full_name" validate:"required"`
	Phone string          `json:"phone" validate:"omitempty,vnphone"`
	Email string          `json:"email" validate:"omitempty,email"`
	Price decimal.Decimal `json:"price" validate:"gt=0"`
}

func TestValidateReturnsValidationError(t *testing.T) {
	err := Validate(contactInput{Phone: "0912345678", Price: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrValidation)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	require.Equal(t, "full_name", verr.Fields[0].Field)
	require.Equal(t, "FULL_NAME_IS_REQUIRED", CodeOf(err))
}

func TestValidatePhoneAndDecimal(t *testing.T) {
	err := Validate(contactInput{Name: "An", Phone: "12", Price: decimal.NewFromInt(1)})
	require.Equal(t, "INVALID_PHONE_NUMBER", CodeOf(err))

	err = Validate(contactInput{Name: "An", Price: decimal.Zero})
	require.Equal(t, "INVALID_PRICE", CodeOf(err))

	require.NoError(t, Validate(contactInput{Name: "An", Phone: "0912345678", Email: "an@example.com", Price: decimal.NewFromInt(5)}))
}

func TestValidEmail(t *testing.T) {
	require.True(t, ValidEmail("shop@lilas.vn"))
	require.False(t, ValidEmail("not-an-email"))
}
