package status

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Tracker remembers whether the last fetch from each host succeeded.
type Tracker struct {
	mu    sync.Mutex
	path  string
	hosts map[string]bool
}

func NewTracker(path string) *Tracker {
	return &Tracker{path: path, hosts: map[string]bool{}}
}

func (t *Tracker) Set(host string, available bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hosts[host] = available
}

func (t *Tracker) Snapshot() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]bool, len(t.hosts))
	for host, ok := range t.hosts {
		out[host] = ok
	}
	return out
}

// Flush rewrites the status file with one "host - Available" or
// "host - Unavailable" line per known host, sorted by host.
func (t *Tracker) Flush() error {
	snapshot := t.Snapshot()
	hosts := make([]string, 0, len(snapshot))
	for host := range snapshot {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	var b strings.Builder
	for _, host := range hosts {
		state := "Unavailable"
		if snapshot[host] {
			state = "Available"
		}
		fmt.Fprintf(&b, "%s - %s\n", host, state)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(t.path), filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), t.path)
}
