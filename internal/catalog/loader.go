package catalog

import (
	"context"
	"sync"
)

// State of a catalog load.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Fetcher retrieves the full voice catalog for one provider.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Voice, error)
}

// Snapshot is a point-in-time view of the loader.
type Snapshot struct {
	State  State
	Voices []Voice
	Err    error
}

// Loader drives the catalog fetch as an explicit state machine:
// Uninitialized -> Loading -> {Loaded | Failed}, re-entered via Refresh.
//
// Every fetch is tagged with a monotonically increasing generation id. A
// completion whose generation is no longer the latest is discarded, so a
// refresh issued while an earlier fetch is still in flight can never be
// overwritten by the stale response.
type Loader struct {
	fetcher Fetcher

	mu         sync.Mutex
	generation uint64
	state      State
	voices     []Voice
	err        error
}

// NewLoader creates a loader in the Uninitialized state.
func NewLoader(fetcher Fetcher) *Loader {
	return &Loader{fetcher: fetcher}
}

// Snapshot returns the current state without blocking on any in-flight fetch.
func (l *Loader) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{State: l.state, Voices: l.voices, Err: l.err}
}

// Refresh runs a fetch and returns the resulting snapshot. If another fetch
// completes first with a newer generation, this call's result is discarded
// and the newer snapshot is returned instead.
func (l *Loader) Refresh(ctx context.Context) Snapshot {
	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.state = StateLoading
	l.mu.Unlock()

	voices, err := l.fetcher.Fetch(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if gen != l.generation {
		// A newer refresh superseded this fetch; keep whatever it produced.
		return Snapshot{State: l.state, Voices: l.voices, Err: l.err}
	}
	if err != nil {
		l.state = StateFailed
		l.voices = nil
		l.err = err
	} else {
		l.state = StateLoaded
		l.voices = voices
		l.err = nil
	}
	return Snapshot{State: l.state, Voices: l.voices, Err: l.err}
}

// Ensure fetches only when no usable catalog is present: an Uninitialized or
// Failed loader refreshes, a Loaded or Loading one returns the snapshot as-is.
func (l *Loader) Ensure(ctx context.Context) Snapshot {
	l.mu.Lock()
	state := l.state
	l.mu.Unlock()
	if state == StateLoaded || state == StateLoading {
		return l.Snapshot()
	}
	return l.Refresh(ctx)
}
