package engine

import (
	"time"
)

type State int32

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateRefreshing
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateError:
		return "error"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source tells where the data behind a LoadResult came from.
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
	// SourceStale means the fetch failed and the previous entry is still
	// being served.
	SourceStale Source = "stale"
	SourceNone  Source = "none"
)

type LoadResult struct {
	Generation uint64 `json:"generation"`
	Source     Source `json:"source"`
	// Superseded is set when a newer load started before this one finished;
	// its outcome was discarded.
	Superseded bool  `json:"superseded,omitempty"`
	Err        error `json:"-"`
}

// Status is a point-in-time copy of an engine's state getters.
type Status struct {
	Engine              string    `json:"engine"`
	State               State     `json:"state"`
	Generation          uint64    `json:"generation"`
	LastUpdated         time.Time `json:"lastUpdated,omitempty"`
	Fresh               bool      `json:"fresh"`
	HasData             bool      `json:"hasData"`
	IsInitialLoading    bool      `json:"isInitialLoading"`
	IsRefreshing        bool      `json:"isRefreshing"`
	IsCustomDateLoading bool      `json:"isCustomDateLoading"`
	Error               string    `json:"error,omitempty"`
}

// Update is pushed to subscribers after every state change or cache write.
type Update struct {
	Engine      string
	State       State
	Generation  uint64
	LastUpdated time.Time
	DataChanged bool
	Err         error
}

type options struct {
	clock func() time.Time
}

type Option func(*options)

// WithClock replaces time.Now for freshness checks and date buckets.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
