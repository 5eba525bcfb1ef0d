package xhub

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Directory is the set of service names eligible to connect to a Hub.
// Registration is independent of being connected and is never revoked by a disconnect.
type Directory interface {
	// Register adds name. A duplicate returns ErrDuplicateIdentifier.
	Register(ctx context.Context, name string) error
	Registered(ctx context.Context, name string) (bool, error)
	Services(ctx context.Context) ([]string, error)
}

// MemoryDirectory is the default in-process Directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	services map[string]struct{}
}

var _ Directory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{services: make(map[string]struct{})}
}

func (d *MemoryDirectory) Register(_ context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("xhub: service name must not be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.services[name]; ok {
		return fmt.Errorf("%w: service %q", ErrDuplicateIdentifier, name)
	}
	d.services[name] = struct{}{}
	return nil
}

func (d *MemoryDirectory) Registered(_ context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.services[name]
	return ok, nil
}

func (d *MemoryDirectory) Services(_ context.Context) ([]string, error) {
	d.mu.RLock()
	out := make([]string, 0, len(d.services))
	for name := range d.services {
		out = append(out, name)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}
