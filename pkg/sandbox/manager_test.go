package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pactown/pkg/artifact"
	"github.com/cuemby/pactown/pkg/cache"
	"github.com/cuemby/pactown/pkg/events"
	"github.com/cuemby/pactown/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	c, err := cache.New(root, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return New(root, c, broker, nil)
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

func TestCreate_MaterializesFilesAndLinksEnv(t *testing.T) {
	m := newTestManager(t)
	art := &artifact.Artifact{
		Files: []artifact.File{{Path: "app.py", Bytes: []byte("print('hi')")}},
		Deps:  []string{"flask"},
		Run:   "python3 app.py --port 8000",
	}

	sb, err := m.Create("svc-a", art)
	require.NoError(t, err)
	assert.Equal(t, types.StateMaterialized, sb.State)
	assert.NotEmpty(t, sb.EnvHash)
}

func TestCreate_AlreadyRunningRejectsSecondCreate(t *testing.T) {
	m := newTestManager(t)
	art := &artifact.Artifact{Run: "sleep 30"}

	_, err := m.Create("svc-a", art)
	require.NoError(t, err)

	m.mu.Lock()
	m.entries["svc-a"].sandbox.State = types.StateRunning
	m.mu.Unlock()

	_, err = m.Create("svc-a", art)
	assert.Error(t, err)
}

func TestStart_HealthyServiceTransitionsToRunning(t *testing.T) {
	m := newTestManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	art := &artifact.Artifact{Run: "sleep 30"}
	_, err = m.Create("svc-ok", art)
	require.NoError(t, err)

	err = m.Start(context.Background(), "svc-ok", "sleep 30", port, nil, "/", 2)
	require.NoError(t, err)

	state, ok := m.Status("svc-ok")
	require.True(t, ok)
	assert.Equal(t, types.StateRunning, state)

	require.NoError(t, m.Stop("svc-ok"))
	state, ok = m.Status("svc-ok")
	require.True(t, ok)
	assert.Equal(t, types.StateDead, state)
}

func TestStart_UnhealthyServiceTimesOut(t *testing.T) {
	m := newTestManager(t)
	art := &artifact.Artifact{Run: "sleep 30"}
	_, err := m.Create("svc-bad", art)
	require.NoError(t, err)

	port := freePort(t) + 1 // an address nothing is listening on
	err = m.Start(context.Background(), "svc-bad", "sleep 30", port, nil, "/health", 1)
	t.Cleanup(func() { _ = m.Stop("svc-bad") })
	assert.Error(t, err)

	state, ok := m.Status("svc-bad")
	require.True(t, ok)
	assert.Equal(t, types.StateDead, state)
}

func TestList_ReturnsCreatedSandboxes(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create("svc-1", &artifact.Artifact{Run: "sleep 1"})
	require.NoError(t, err)
	_, err = m.Create("svc-2", &artifact.Artifact{Run: "sleep 1"})
	require.NoError(t, err)

	names := m.List()
	assert.ElementsMatch(t, []string{"svc-1", "svc-2"}, names)
}

func TestStop_NonexistentSandboxIsNoOp(t *testing.T) {
	m := newTestManager(t)
	assert.NoError(t, m.Stop("never-existed"))
}
