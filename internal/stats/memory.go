package stats

import (
	"context"
	"maps"
	"sync"
)

// Memory keeps counters in process. It never expires anything.
type Memory struct {
	mu           sync.Mutex
	total        Counters
	byDay        map[string]Counters
	byPrefecture map[string]Counters
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{
		byDay:        make(map[string]Counters),
		byPrefecture: make(map[string]Counters),
	}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	field := fieldFor(ev.Failure)
	day := dayKey(ev.At)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total.add(field, 1)
	c := m.byDay[day]
	c.add(field, 1)
	m.byDay[day] = c
	if ev.Prefecture != "" {
		p := m.byPrefecture[ev.Prefecture]
		p.add(field, 1)
		m.byPrefecture[ev.Prefecture] = p
	}
	return nil
}

func (m *Memory) Totals(context.Context) (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, nil
}

// ByDay returns counters keyed by UTC day (YYYYMMDD).
func (m *Memory) ByDay() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.byDay)
}

// ByPrefecture returns counters keyed by prefecture.
func (m *Memory) ByPrefecture() map[string]Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.byPrefecture)
}
