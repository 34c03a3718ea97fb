package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemorySequencerIsGapless(t *testing.T) {
	seq := NewMemorySequencer()
	ctx := context.Background()
	prev := int64(0)
	for i := 0; i < 5; i++ {
		code, err := seq.NextCode(ctx, PrefixInvoice)
		require.NoError(t, err)
		n, ok := ParseCode(PrefixInvoice, code)
		require.True(t, ok)
		require.Equal(t, prev+1, n)
		prev = n
	}
	code, err := seq.NextCode(ctx, PrefixSupplier)
	require.NoError(t, err)
	require.Equal(t, "NCC1", code)
}

func TestParseCode(t *testing.T) {
	_, ok := ParseCode(PrefixCustomer, "DH3")
	require.False(t, ok)
	n, ok := ParseCode(PrefixCustomer, "KH42")
	require.True(t, ok)
	require.EqualValues(t, 42, n)
}
