package restcore

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionPool bounds the number of in-flight connections per target host.
// Acquisition past the limit blocks until a handle is released or the
// caller's deadline fires. The underlying http.Transport keeps idle
// connections warm between uses and validates them before reuse; a handle
// that hits a transport error drops the host's idle connections so a dead
// connection is never handed out again.
type ConnectionPool struct {
	mu         sync.Mutex
	maxPerHost int
	slots      map[string]chan struct{}
	transport  *http.Transport
}

// NewConnectionPool creates a pool allowing maxPerHost concurrent
// connections per host over the given transport. A nil transport gets a
// default sized to the pool.
func NewConnectionPool(maxPerHost int, transport *http.Transport) *ConnectionPool {
	if maxPerHost <= 0 {
		maxPerHost = 1
	}
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConnsPerHost: maxPerHost,
			MaxConnsPerHost:     maxPerHost,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &ConnectionPool{
		maxPerHost: maxPerHost,
		slots:      make(map[string]chan struct{}),
		transport:  transport,
	}
}

// Acquire returns a connection handle for host, blocking while the host is at
// its limit. On ctx expiry it returns ErrPoolExhausted and holds nothing.
func (p *ConnectionPool) Acquire(ctx context.Context, host string) (*PoolHandle, error) {
	sem := p.hostSlots(host)

	select {
	case <-ctx.Done():
		return nil, ErrPoolExhausted
	default:
	}

	select {
	case sem <- struct{}{}:
		return &PoolHandle{pool: p, host: host}, nil
	case <-ctx.Done():
		return nil, ErrPoolExhausted
	}
}

// InUse reports the number of handles currently held for host.
func (p *ConnectionPool) InUse(host string) int {
	return len(p.hostSlots(host))
}

// MaxPerHost returns the per-host connection limit.
func (p *ConnectionPool) MaxPerHost() int { return p.maxPerHost }

// CloseIdle drops all idle connections in the underlying transport.
func (p *ConnectionPool) CloseIdle() {
	p.transport.CloseIdleConnections()
}

func (p *ConnectionPool) hostSlots(host string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	sem, ok := p.slots[host]
	if !ok {
		sem = make(chan struct{}, p.maxPerHost)
		p.slots[host] = sem
	}
	return sem
}

// PoolHandle is a scoped claim on one per-host connection slot. Release is
// idempotent; the executor releases before sleeping between attempts so a
// backoff never pins a slot.
type PoolHandle struct {
	pool     *ConnectionPool
	host     string
	released int32
}

// RoundTrip sends the request over the pooled transport. A transport error
// discards the host's idle connections: the next acquisition dials fresh
// rather than reusing a connection that may be dead.
func (h *PoolHandle) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := h.pool.transport.RoundTrip(req)
	if err != nil {
		h.pool.transport.CloseIdleConnections()
	}
	return resp, err
}

// Release returns the slot to the pool. Safe to call more than once.
func (h *PoolHandle) Release() {
	if h == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&h.released, 0, 1) {
		<-h.pool.hostSlots(h.host)
	}
}
