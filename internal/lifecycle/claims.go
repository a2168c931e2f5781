package lifecycle

import (
	"fmt"
	"sync"
)

// claimTable enforces one in-flight operation per device path.
type claimTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newClaimTable() *claimTable {
	return &claimTable{held: map[string]struct{}{}}
}

// acquire claims every path atomically, or none of them. The returned
// release is safe to call once, typically deferred.
func (t *claimTable) acquire(paths ...string) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range paths {
		if _, busy := t.held[p]; busy {
			return nil, fmt.Errorf("%s: %w", p, ErrDeviceBusy)
		}
	}
	for _, p := range paths {
		t.held[p] = struct{}{}
	}
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, p := range paths {
			delete(t.held, p)
		}
	}, nil
}
