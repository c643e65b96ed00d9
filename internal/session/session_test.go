package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRange(t *testing.T) {
	valid := &Session{Range: &Range{Start: TimeOfDay{9, 30}, End: TimeOfDay{16, 0}}}
	assert.NoError(t, valid.Validate())

	inverted := &Session{Range: &Range{Start: TimeOfDay{16, 0}, End: TimeOfDay{9, 30}}}
	assert.Error(t, inverted.Validate())
}

func TestValidateNamed(t *testing.T) {
	assert.NoError(t, (&Session{Named: "NewYork"}).Validate())
	assert.Error(t, (&Session{Named: "Atlantis"}).Validate())
	assert.Error(t, (&Session{}).Validate())

	both := &Session{Named: "London", Range: &Range{}}
	assert.Error(t, both.Validate())
}

func TestResolveNamed(t *testing.T) {
	window, err := (&Session{Named: "London"}).Resolve()
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{8, 0}, window.Start)
	assert.Equal(t, TimeOfDay{16, 30}, window.End)
}

func TestRangeContains(t *testing.T) {
	window := Range{Start: TimeOfDay{9, 30}, End: TimeOfDay{16, 0}}
	assert.True(t, window.Contains(TimeOfDay{9, 30}.MinuteOfDay()))
	assert.True(t, window.Contains(TimeOfDay{12, 0}.MinuteOfDay()))
	assert.True(t, window.Contains(TimeOfDay{16, 0}.MinuteOfDay()))
	assert.False(t, window.Contains(TimeOfDay{9, 29}.MinuteOfDay()))
	assert.False(t, window.Contains(TimeOfDay{16, 1}.MinuteOfDay()))
}

func TestHashAndEqual(t *testing.T) {
	a := &Session{Range: &Range{Start: TimeOfDay{9, 30}, End: TimeOfDay{16, 0}}}
	b := &Session{Range: &Range{Start: TimeOfDay{9, 30}, End: TimeOfDay{16, 0}}}
	c := &Session{Named: "NewYork"}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, a.Equal(b))
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}
