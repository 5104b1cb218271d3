package jobs

import (
	"context"
	"sync"
	"time"
)

// MemoryTracker is used when Redis is not configured. State is lost on restart.
type MemoryTracker struct {
	mu   sync.RWMutex
	jobs map[string]*Progress
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{jobs: make(map[string]*Progress)}
}

func (t *MemoryTracker) Queue(_ context.Context, id, provider string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Progress{ID: id, Status: StatusQueued, Provider: provider, UpdatedAt: time.Now().UTC()}
	return nil
}

func (t *MemoryTracker) Start(_ context.Context, id, provider string, total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs[id] = &Progress{ID: id, Status: StatusRunning, Provider: provider, Total: total, UpdatedAt: time.Now().UTC()}
	return nil
}

func (t *MemoryTracker) Advance(_ context.Context, id string, success bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	p.Sent++
	if success {
		p.Successful++
	} else {
		p.Failed++
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *MemoryTracker) Finish(_ context.Context, id, status string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.jobs[id]
	if !ok {
		p = &Progress{ID: id}
		t.jobs[id] = p
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (t *MemoryTracker) Get(_ context.Context, id string) (*Progress, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *p
	return &cp, nil
}

type memoryClaim struct {
	jobID   string
	expires time.Time
}

// MemoryIdempotency keeps claims in process memory with the same TTL semantics
// as the Redis guard.
type MemoryIdempotency struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]memoryClaim
}

func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &MemoryIdempotency{ttl: ttl, now: time.Now, keys: make(map[string]memoryClaim)}
}

func (i *MemoryIdempotency) Claim(_ context.Context, key, jobID string) (string, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.now()
	for k, c := range i.keys {
		if !now.Before(c.expires) {
			delete(i.keys, k)
		}
	}
	if existing, ok := i.keys[key]; ok {
		return existing.jobID, false, nil
	}
	i.keys[key] = memoryClaim{jobID: jobID, expires: now.Add(i.ttl)}
	return jobID, true, nil
}

func (i *MemoryIdempotency) Release(_ context.Context, key, jobID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok := i.keys[key]; ok && c.jobID == jobID {
		delete(i.keys, key)
	}
	return nil
}
