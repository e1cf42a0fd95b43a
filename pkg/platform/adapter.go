// Package platform defines the outbound publishing contract. Concrete
// adapters for real networks are external collaborators; this package
// carries the capability interface, the startup-resolved registry and a
// loopback adapter for development and tests.
package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"crossfeed/pkg/domain"
)

// PostContent is the outbound payload handed to an adapter
type PostContent struct {
	Title string
	Body  string
	Link  string
	Tags  []string
}

// PublishResult is what an adapter reports after successful delivery
type PublishResult struct {
	ExternalID string // target-platform id of the created post
	URL        string
}

// RateLimits describes the platform's publish budget
type RateLimits struct {
	RequestsPerMinute int
	Burst             int
}

// Adapter is the capability contract every publishing target implements.
// Publish failures must carry a domain error kind: transient failures get
// retried by the dispatcher, permanent ones fail the job.
type Adapter interface {
	GetStatus(ctx context.Context) error
	TestConnection(ctx context.Context) error
	Publish(ctx context.Context, userID string, content PostContent) (*PublishResult, error)
	GetRateLimits() RateLimits
}

// Registry holds the adapters resolved once at startup; lookups at dispatch
// time never construct anything
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register binds an adapter to a platform name, replacing any previous one
func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// Get resolves an adapter; unknown platforms are permanent failures since
// retrying can't make an adapter appear
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, domain.Permanentf(nil, "no adapter registered for platform %q", name)
	}
	return adapter, nil
}

// Platforms returns the registered platform names, sorted
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoopbackAdapter accepts every publish and fabricates ids; used in
// development setups without real platform credentials
type LoopbackAdapter struct {
	name string
	seq  atomic.Int64
}

// NewLoopbackAdapter creates a loopback adapter for the named platform
func NewLoopbackAdapter(name string) *LoopbackAdapter {
	return &LoopbackAdapter{name: name}
}

// GetStatus always reports healthy
func (l *LoopbackAdapter) GetStatus(context.Context) error { return nil }

// TestConnection always succeeds
func (l *LoopbackAdapter) TestConnection(context.Context) error { return nil }

// Publish accepts the post and returns a synthetic id
func (l *LoopbackAdapter) Publish(_ context.Context, _ string, _ PostContent) (*PublishResult, error) {
	id := l.seq.Add(1)
	return &PublishResult{
		ExternalID: fmt.Sprintf("%s-%d", l.name, id),
		URL:        fmt.Sprintf("loopback://%s/%d", l.name, id),
	}, nil
}

// GetRateLimits reports a generous budget
func (l *LoopbackAdapter) GetRateLimits() RateLimits {
	return RateLimits{RequestsPerMinute: 600, Burst: 60}
}
