package security

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/types"
)

const defaultMaxEvents = 10000

// AnomalyLog is the append-only JSON-lines log of policy-relevant
// events, capped at maxEvents with oldest-first eviction on overflow.
// An optional notify hook fires synchronously on every append.
type AnomalyLog struct {
	mu        sync.Mutex
	path      string
	maxEvents int
	count     int
	notify    NotifyFunc
}

// OpenAnomalyLog opens (creating if absent) the anomaly log at path and
// counts its existing lines so eviction bookkeeping survives restarts.
func OpenAnomalyLog(path string, notify NotifyFunc) (*AnomalyLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create anomaly log dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open anomaly log: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}

	return &AnomalyLog{path: path, maxEvents: defaultMaxEvents, count: count, notify: notify}, nil
}

// Append writes event as one JSON line, evicting the oldest entries
// first if the log is at capacity.
func (a *AnomalyLog) Append(event types.AnomalyEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if a.count >= a.maxEvents {
		if err := a.evictOldestLocked(a.count - a.maxEvents + 1); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open anomaly log for append: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal anomaly event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append anomaly event: %w", err)
	}
	a.count++
	metrics.AnomalyEventsTotal.WithLabelValues(string(event.Type)).Inc()

	if a.notify != nil {
		a.notify(event)
	}
	return nil
}

// evictOldestLocked drops the oldest n lines by rewriting the file
// through a temp file and atomic rename. Called with mu held.
func (a *AnomalyLog) evictOldestLocked(n int) error {
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("open anomaly log for eviction: %w", err)
	}

	var kept []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		kept = append(kept, scanner.Text())
	}
	f.Close()

	if n > 0 && n <= len(kept) {
		kept = kept[n:]
	} else if n > len(kept) {
		kept = nil
	}

	tmp := a.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create anomaly log temp file: %w", err)
	}
	w := bufio.NewWriter(out)
	for _, line := range kept {
		if _, err := w.WriteString(line + "\n"); err != nil {
			out.Close()
			return fmt.Errorf("write anomaly log temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return fmt.Errorf("flush anomaly log temp file: %w", err)
	}
	out.Close()

	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("replace anomaly log: %w", err)
	}
	a.count = len(kept)
	return nil
}
