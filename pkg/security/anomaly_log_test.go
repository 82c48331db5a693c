package security

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/pactown/pkg/types"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

func TestAnomalyLog_AppendWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.jsonl")
	al, err := OpenAnomalyLog(path, nil)
	require.NoError(t, err)

	require.NoError(t, al.Append(types.AnomalyEvent{Type: types.AnomalyRateLimitExceeded, UserID: "u1"}))
	require.NoError(t, al.Append(types.AnomalyEvent{Type: types.AnomalyHourlyLimitExceeded, UserID: "u1"}))

	assert.Equal(t, 2, countLines(t, path))
}

func TestAnomalyLog_EvictsOldestOnOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.jsonl")
	al, err := OpenAnomalyLog(path, nil)
	require.NoError(t, err)
	al.maxEvents = 3

	for i := 0; i < 5; i++ {
		require.NoError(t, al.Append(types.AnomalyEvent{Type: types.AnomalyRateLimitExceeded, UserID: "u1"}))
	}

	assert.Equal(t, 3, countLines(t, path))
}

func TestAnomalyLog_NotifyFiresSynchronously(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.jsonl")
	var seen []types.AnomalyType
	al, err := OpenAnomalyLog(path, func(e types.AnomalyEvent) { seen = append(seen, e.Type) })
	require.NoError(t, err)

	require.NoError(t, al.Append(types.AnomalyEvent{Type: types.AnomalyServerOverloaded}))
	assert.Equal(t, []types.AnomalyType{types.AnomalyServerOverloaded}, seen)
}

func TestAnomalyLog_ReopenCountsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anomalies.jsonl")
	al, err := OpenAnomalyLog(path, nil)
	require.NoError(t, err)
	require.NoError(t, al.Append(types.AnomalyEvent{Type: types.AnomalyRateLimitExceeded}))
	require.NoError(t, al.Append(types.AnomalyEvent{Type: types.AnomalyRateLimitExceeded}))

	reopened, err := OpenAnomalyLog(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.count)
}
