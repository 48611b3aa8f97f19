package respondent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Filter narrows a roster listing. Empty fields match everything.
type Filter struct {
	Prefecture string
	Region     string
}

func (f Filter) matches(r Respondent) bool {
	if f.Prefecture != "" && r.Prefecture != f.Prefecture {
		return false
	}
	if f.Region != "" && r.Region != f.Region {
		return false
	}
	return true
}

// PrefectureSummary counts respondents per prefecture and lists prefectures
// per region.
type PrefectureSummary struct {
	Prefectures map[string]int      `json:"prefectures"`
	Regions     map[string][]string `json:"regions"`
}

// Roster is the set of respondents available for interviews and surveys.
type Roster struct {
	path string

	mu    sync.RWMutex
	items []Respondent
	byID  map[string]int
}

type rosterFile struct {
	Respondents []Respondent `yaml:"respondents"`
}

// Load reads a roster file. Both YAML and JSON are accepted, either as a
// bare list or under a top-level "respondents" key.
func Load(path string) (*Roster, error) {
	items, err := readFile(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRoster(items)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	r.path = path
	return r, nil
}

// NewRoster builds a roster from respondents. IDs must be unique and non-empty.
func NewRoster(items []Respondent) (*Roster, error) {
	r := &Roster{}
	if err := r.replace(items); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse decodes roster file contents.
func Parse(data []byte) ([]Respondent, error) {
	var wrapped rosterFile
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Respondents) > 0 {
		return wrapped.Respondents, nil
	}
	var items []Respondent
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return items, nil
}

func readFile(path string) ([]Respondent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return Parse(data)
}

func (r *Roster) replace(items []Respondent) error {
	byID := make(map[string]int, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return fmt.Errorf("respondent %d has no id", i)
		}
		if _, dup := byID[id]; dup {
			return fmt.Errorf("duplicate respondent id %q", id)
		}
		byID[id] = i
	}

	r.mu.Lock()
	r.items = items
	r.byID = byID
	r.mu.Unlock()
	return nil
}

// Len returns the number of respondents.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Get looks up a respondent by id.
func (r *Roster) Get(id string) (Respondent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byID[id]
	if !ok {
		return Respondent{}, false
	}
	return r.items[idx], true
}

// List returns respondents matching f in file order.
func (r *Roster) List(f Filter) []Respondent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Respondent, 0, len(r.items))
	for _, item := range r.items {
		if f.matches(item) {
			out = append(out, item)
		}
	}
	return out
}

// Prefectures summarizes the roster by prefecture and region.
func (r *Roster) Prefectures() PrefectureSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := PrefectureSummary{
		Prefectures: make(map[string]int),
		Regions:     make(map[string][]string),
	}
	for _, item := range r.items {
		if _, seen := summary.Prefectures[item.Prefecture]; !seen && item.Region != "" {
			summary.Regions[item.Region] = append(summary.Regions[item.Region], item.Prefecture)
		}
		summary.Prefectures[item.Prefecture]++
	}
	for region := range summary.Regions {
		sort.Strings(summary.Regions[region])
	}
	return summary
}

// Reload re-reads the roster file. On error the previous contents stay.
func (r *Roster) Reload() error {
	if r.path == "" {
		return errors.New("roster was not loaded from a file")
	}
	items, err := readFile(r.path)
	if err != nil {
		return err
	}
	return r.replace(items)
}

// Watch reloads the roster whenever its file changes, until ctx ends.
// onReload, when set, receives the result of every reload attempt.
func (r *Roster) Watch(ctx context.Context, onReload func(error)) error {
	if r.path == "" {
		return errors.New("roster was not loaded from a file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create roster watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch roster dir: %w", err)
	}

	target := filepath.Clean(r.path)
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				err := r.Reload()
				if onReload != nil {
					onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onReload != nil {
					onReload(err)
				}
			}
		}
	}()
	return nil
}
