package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lilas/backoffice/internal/shared"
)

type docStatus string

const (
	draft    docStatus = "draft"
	posted   docStatus = "posted"
	canceled docStatus = "canceled"
)

func TestMachineTransitions(t *testing.T) {
	m := New("doc", map[docStatus][]docStatus{
		draft: {posted, canceled},
	})

	require.True(t, m.Can(draft, posted))
	require.False(t, m.Can(posted, draft))
	require.True(t, m.Terminal(posted))
	require.True(t, m.Terminal(canceled))
	require.False(t, m.Terminal(draft))
	require.True(t, m.Known(canceled))
	require.False(t, m.Known(docStatus("archived")))
	require.Equal(t, []docStatus{canceled, posted}, m.Targets(draft))

	require.NoError(t, m.Transition(draft, canceled))
	err := m.Transition(canceled, posted)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Equal(t, "INVALID_STATUS_TRANSITION", shared.CodeOf(err))
}

func TestIn(t *testing.T) {
	require.True(t, In(posted, draft, posted))
	require.False(t, In(canceled, draft, posted))
}
