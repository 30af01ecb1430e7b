package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSlaveManagerRoundRobinSkipsWorking(t *testing.T) {
	m := NewSlaveManager(zap.NewNop())

	a := newSlave("a", nil)
	b := newSlave("b", nil)
	c := newSlave("c", nil)
	m.Add(a)
	m.Add(b)
	m.Add(c)

	b.setWorking(true)

	first, ok := m.pickLocked()
	require.True(t, ok)
	assert.Equal(t, "a", first.ID)

	second, ok := m.pickLocked()
	require.True(t, ok)
	assert.Equal(t, "c", second.ID, "b is working, so the cursor must skip it")

	third, ok := m.pickLocked()
	require.True(t, ok)
	assert.Equal(t, "a", third.ID, "cursor wraps back to the start")
}

func TestSlaveManagerPickFallsBackWhenAllBusy(t *testing.T) {
	m := NewSlaveManager(zap.NewNop())

	a := newSlave("a", nil)
	b := newSlave("b", nil)
	m.Add(a)
	m.Add(b)
	a.setWorking(true)
	b.setWorking(true)

	s, ok := m.pickLocked()
	require.True(t, ok)
	assert.Contains(t, []string{"a", "b"}, s.ID)
}

func TestSlaveManagerAddIsIdempotentByID(t *testing.T) {
	m := NewSlaveManager(zap.NewNop())
	m.Add(newSlave("a", nil))
	m.Add(newSlave("a", nil))
	assert.Equal(t, 1, m.Count())
}

func TestSlaveManagerRemove(t *testing.T) {
	m := NewSlaveManager(zap.NewNop())
	m.Add(newSlave("a", nil))
	m.Add(newSlave("b", nil))
	m.Remove("a")
	assert.Equal(t, 1, m.Count())
	_, ok := m.pickLocked()
	require.True(t, ok)
}

func TestSlaveManagerPickOnEmptyReturnsFalse(t *testing.T) {
	m := NewSlaveManager(zap.NewNop())
	_, ok := m.pickLocked()
	assert.False(t, ok)
}
