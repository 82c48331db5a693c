package registry

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/pactown/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAlive struct {
	alive map[string]bool
}

func (f fakeAlive) IsAlive(name string) bool { return f.alive[name] }

func TestRegister_PersistsAndReads(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	_, err := r.Register("db", "127.0.0.1", 8003, "/health")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, ".pactown-services.json"))

	ep := r.Get("db")
	require.NotNil(t, ep)
	assert.Equal(t, 8003, ep.Port)
}

func TestUnregister_RemovesEndpoint(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	_, err := r.Register("api", "127.0.0.1", 9000, "/health")
	require.NoError(t, err)

	require.NoError(t, r.Unregister("api"))
	assert.Nil(t, r.Get("api"))
}

func TestUnregister_NonexistentIsNoop(t *testing.T) {
	r := New(t.TempDir())
	assert.NoError(t, r.Unregister("ghost"))
}

func TestEnvironmentFor_ComposesFixedKeys(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	_, err := r.Register("db", "127.0.0.1", 8003, "/health")
	require.NoError(t, err)

	env := r.EnvironmentFor("api", 8010, []types.DependencyRef{
		{Name: "db", EnvVar: "DATABASE_URL"},
	})

	assert.Equal(t, "http://127.0.0.1:8003", env["DATABASE_URL"])
	assert.Equal(t, "127.0.0.1", env["DB_HOST"])
	assert.Equal(t, "8003", env["DB_PORT"])
	assert.Equal(t, "8010", env["PORT"])
	assert.Equal(t, "8010", env["MARKPACT_PORT"])
	assert.Equal(t, "api", env["SERVICE_NAME"])
	assert.Equal(t, "http://127.0.0.1:8010", env["SERVICE_URL"])
}

func TestEnvironmentFor_ExplicitEndpointOverridesURLOnly(t *testing.T) {
	r := New(t.TempDir())
	env := r.EnvironmentFor("api", 8010, []types.DependencyRef{
		{Name: "ext", Endpoint: "https://ext.example.com:9443/v1", EnvVar: "EXT_URL"},
	})

	assert.Equal(t, "https://ext.example.com:9443/v1", env["EXT_URL"])
	assert.Equal(t, "ext.example.com", env["EXT_HOST"])
	assert.Equal(t, "9443", env["EXT_PORT"])
}

func TestEnvironmentFor_UnparseableEndpointOmitsHostPort(t *testing.T) {
	r := New(t.TempDir())
	env := r.EnvironmentFor("api", 8010, []types.DependencyRef{
		{Name: "ext", Endpoint: "not-a-url", EnvVar: "EXT_URL"},
	})

	assert.Equal(t, "not-a-url", env["EXT_URL"])
	_, hasHost := env["EXT_HOST"]
	_, hasPort := env["EXT_PORT"]
	assert.False(t, hasHost)
	assert.False(t, hasPort)
}

func TestLoad_ReconcilesAgainstAliveSet(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	_, err := w.Register("db", "127.0.0.1", 8003, "/health")
	require.NoError(t, err)
	_, err = w.Register("api", "127.0.0.1", 8010, "/health")
	require.NoError(t, err)

	loaded, err := Load(dir, fakeAlive{alive: map[string]bool{"db": true}})
	require.NoError(t, err)

	assert.NotNil(t, loaded.Get("db"))
	assert.Nil(t, loaded.Get("api"))
}

func TestLoad_MissingFileIsEmptyRegistry(t *testing.T) {
	loaded, err := Load(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Empty(t, loaded.List())
}
