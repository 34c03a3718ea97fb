package inventory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/shared"
)

func TestParseBranch(t *testing.T) {
	b, err := ParseBranch("Terra")
	require.NoError(t, err)
	require.Equal(t, BranchTerra, b)

	b, err = ParseBranch(" Thợ Nhuộm ")
	require.NoError(t, err)
	require.Equal(t, BranchThoNhuom, b)
	require.Equal(t, "thonhuom_can_sell", b.Column("can_sell"))

	_, err = ParseBranch("Hanoi")
	require.ErrorIs(t, err, shared.ErrBranchNotFound)
	require.Equal(t, "BRANCH_NOT_FOUND", shared.CodeOf(err))
}

func TestBranchText(t *testing.T) {
	text, err := BranchThoNhuom.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "Thợ Nhuộm", string(text))

	var b Branch
	require.NoError(t, b.UnmarshalText([]byte("Terra")))
	require.Equal(t, BranchTerra, b)
	require.Error(t, b.UnmarshalText([]byte("terra")))
}
