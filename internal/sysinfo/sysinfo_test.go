package sysinfo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectReturnsPlausibleValues(t *testing.T) {
	snap, err := Collect(context.Background())
	require.NoError(t, err)

	assert.Greater(t, snap.CPUCount, 0)
	assert.Greater(t, snap.MemTotal, uint64(0))
	assert.NotEmpty(t, snap.OS)
}
