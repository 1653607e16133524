package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMigrations = []Migration{
	{Version: "1.1.0", Up: "b"},
	{Version: "1.0.0", Up: "a"},
	{Version: "1.10.0", Up: "c"},
}

func TestPendingOrdersBySemver(t *testing.T) {
	pending, err := Pending(testMigrations, "")
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"1.0.0", "1.1.0", "1.10.0"}, []string{pending[0].Version, pending[1].Version, pending[2].Version})
}

func TestPendingSkipsApplied(t *testing.T) {
	pending, err := Pending(testMigrations, "1.1.0")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "1.10.0", pending[0].Version)

	pending, err = Pending(testMigrations, "1.10.0")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPendingRejectsBadVersion(t *testing.T) {
	_, err := Pending(testMigrations, "not-a-version")
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	v, err := Latest(testMigrations)
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", v)
}

func TestHighest(t *testing.T) {
	v, err := Highest([]string{"1.2.0", "1.10.0", "1.9.1"})
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", v)

	v, err = Highest(nil)
	require.NoError(t, err)
	assert.Empty(t, v)
}
