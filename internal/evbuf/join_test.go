package evbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSharesStorage(t *testing.T) {
	t.Parallel()

	owner, alias := newBuffer(t, 128), newBuffer(t, 32)
	require.True(t, owner.Append(1, []byte{1}))

	require.NoError(t, alias.Join(owner))
	assert.True(t, alias.IsJoined())
	assert.Same(t, owner, alias.alias)
	assert.Equal(t, 128, alias.Capacity(), "alias reports the owner's arena")

	require.True(t, alias.Append(2, []byte{2}))
	assert.Equal(t, uint32(2), owner.Count(), "writes through the alias are visible to the owner")

	require.True(t, owner.Append(3, []byte{3}))
	assert.Len(t, alias.Events(), 3)
}

func TestJoinAtMostOnce(t *testing.T) {
	t.Parallel()

	a, b, c := newBuffer(t, 64), newBuffer(t, 64), newBuffer(t, 64)
	require.NoError(t, a.Join(b))
	require.ErrorIs(t, a.Join(c), ErrAlreadyJoined)
	require.ErrorIs(t, b.Join(a), ErrSelfJoin, "joining through an alias back to itself")
}

func TestJoinFollowsAliasChain(t *testing.T) {
	t.Parallel()

	owner, mid, tail := newBuffer(t, 64), newBuffer(t, 64), newBuffer(t, 64)
	require.NoError(t, mid.Join(owner))
	require.NoError(t, tail.Join(mid))
	assert.Same(t, owner, tail.alias)
}

func TestUnjoinRestoresPrivateStorage(t *testing.T) {
	t.Parallel()

	owner, alias := newBuffer(t, 128), newBuffer(t, 32)
	require.True(t, alias.Append(9, []byte{9}))
	require.NoError(t, alias.Join(owner))
	require.True(t, alias.Append(1, []byte{1}))

	alias.Unjoin()
	assert.False(t, alias.IsJoined())
	assert.Equal(t, 32, alias.Capacity())
	assert.True(t, alias.Empty(), "unjoin resets the private arena")
	assert.Equal(t, uint32(1), owner.Count())

	alias.Unjoin()
	assert.False(t, alias.IsJoined())
}

func TestStaleAlias(t *testing.T) {
	t.Parallel()

	owner, alias := newBuffer(t, 64), newBuffer(t, 64)
	require.NoError(t, alias.Join(owner))
	owner.Release()

	require.ErrorIs(t, alias.Validate(), ErrStaleAlias)
	assert.False(t, alias.Append(1, []byte{1}))
	_, _, ok := alias.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, alias.Size())

	other := newBuffer(t, 64)
	require.True(t, other.Append(1, []byte{1}))
	require.ErrorIs(t, Merge(newBuffer(t, 128), alias, other), ErrStaleAlias)

	alias.Unjoin()
	require.NoError(t, alias.Validate())
	assert.True(t, alias.Append(1, []byte{1}))
}

func TestJoinReleased(t *testing.T) {
	t.Parallel()

	owner, alias := newBuffer(t, 64), newBuffer(t, 64)
	owner.Release()
	require.ErrorIs(t, alias.Join(owner), ErrReleased)
	require.ErrorIs(t, owner.Validate(), ErrReleased)
	assert.Equal(t, uint32(1), owner.Generation())
}

func TestCanJoin(t *testing.T) {
	t.Parallel()

	assert.True(t, CanJoin(KindEvent, KindEvent))
	assert.False(t, CanJoin(KindEvent, KindAudio))
	assert.False(t, CanJoin(KindControl, KindControl))
	assert.Equal(t, "event", KindEvent.String())
}
