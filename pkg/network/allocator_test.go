package network

import (
	"net"
	"testing"

	"github.com/cuemby/pactown/pkg/pactownerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_PrefersPreferredPort(t *testing.T) {
	a := NewAllocator(20000, 20100)
	port, err := a.Allocate(20050)
	require.NoError(t, err)
	assert.Equal(t, 20050, port)
}

func TestAllocator_FallsBackWhenPreferredTaken(t *testing.T) {
	a := NewAllocator(20100, 20200)

	first, err := a.Allocate(20150)
	require.NoError(t, err)
	assert.Equal(t, 20150, first)

	second, err := a.Allocate(20150)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "second allocation of a taken preferred port must fall back")
}

func TestAllocator_SkipsPortsHeldByOtherListeners(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:20300")
	require.NoError(t, err)
	defer ln.Close()

	a := NewAllocator(20300, 20302)
	port, err := a.Allocate(20300)
	require.NoError(t, err)
	assert.NotEqual(t, 20300, port)
}

func TestAllocator_NoFreePort(t *testing.T) {
	a := NewAllocator(20400, 20400)
	_, err := a.Allocate(0)
	require.NoError(t, err) // first call succeeds

	_, err = a.Allocate(0)
	require.Error(t, err)
	assert.True(t, pactownerr.Is(err, pactownerr.KindNoFreePort))
}

func TestAllocator_ReleaseAllowsReissue(t *testing.T) {
	a := NewAllocator(20500, 20500)
	port, err := a.Allocate(0)
	require.NoError(t, err)

	a.Release(port)

	again, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Equal(t, port, again)
}
