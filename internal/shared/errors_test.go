package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodedErrorMatchesKindAndCode(t *testing.T) {
	errMissing := NewError(ErrNotFound, "INVOICE_NOT_FOUND", "invoice not found")
	wrapped := fmt.Errorf("sales: load invoice: %w", errMissing)

	require.ErrorIs(t, wrapped, ErrNotFound)
	require.ErrorIs(t, wrapped, errMissing)
	require.NotErrorIs(t, wrapped, ErrConflict)
	require.Equal(t, "INVOICE_NOT_FOUND", CodeOf(wrapped))
}

func TestWithMessageKeepsIdentity(t *testing.T) {
	err := ErrInvalidAmount.WithMessage("amount %s", "-1")
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.ErrorIs(t, err, ErrValidation)
	require.Equal(t, "INVALID_AMOUNT", CodeOf(err))
	require.Contains(t, err.Error(), "amount -1")
}

func TestCodeOfFallsBackToKind(t *testing.T) {
	require.Equal(t, "INSUFFICIENT_STOCK", CodeOf(fmt.Errorf("x: %w", ErrInsufficientStock)))
	require.Equal(t, "INTERNAL_ERROR", CodeOf(errors.New("boom")))
	require.Equal(t, "", CodeOf(nil))
}
