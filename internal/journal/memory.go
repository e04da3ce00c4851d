// Package journal stores the results of completed pipeline steps so a
// re-invoked run replays them instead of recomputing.
package journal

import (
	"context"
	"sync"
)

// MemoryJournal keeps step results for the lifetime of the process.
type MemoryJournal struct {
	mu      sync.RWMutex
	results map[string][]byte
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{results: make(map[string][]byte)}
}

func (j *MemoryJournal) Load(_ context.Context, runID, step string) ([]byte, bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	data, ok := j.results[key(runID, step)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (j *MemoryJournal) Save(_ context.Context, runID, step string, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results[key(runID, step)] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored step results.
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.results)
}

func key(runID, step string) string {
	return KeyPrefix + runID + ":" + step
}
