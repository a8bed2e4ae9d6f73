package electrum

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/btcbuilder/txbuilder/txerrors"
)

// CircuitState is the closed set of states a per-server circuit breaker
// can be in.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// LoadBalanceStrategy is the closed set of strategies Pool.Acquire can use
// to pick among healthy servers.
type LoadBalanceStrategy string

const (
	StrategyRoundRobin      LoadBalanceStrategy = "round_robin"
	StrategyWeighted        LoadBalanceStrategy = "weighted"
	StrategyLeastConnection LoadBalanceStrategy = "least_connections"
	StrategyHealthBased     LoadBalanceStrategy = "health_based"
)

// healthEWMAAlpha weights the most recent call outcome against the
// server's running health score.
const healthEWMAAlpha = 0.1

const (
	circuitFailureThreshold = 5
	circuitOpenCooldown     = 30 * time.Second

	// slotGrowRatio/slotShrinkRatio are section 4.9's dynamic-scaling
	// thresholds on a server's in_use/total connection ratio.
	slotGrowRatio   = 0.8
	slotShrinkRatio = 0.2

	defaultMinConnPerServer = 1
	defaultMaxConnPerServer = 4
)

// conn is one connection slot within a member's pool. lastUsed tracks
// idleness so shrinkIfColdLocked can retire the oldest idle slot first.
type conn struct {
	client   *Client
	inUse    bool
	lastUsed time.Time
}

type member struct {
	url      string
	weight   float64
	health   float64 // EWMA in [0,1], 1 = perfect
	circuit  CircuitState
	failures int
	openedAt time.Time

	conns   []*conn
	minConn int
	maxConn int
}

func (m *member) inUseCount() int {
	n := 0
	for _, c := range m.conns {
		if c.inUse {
			n++
		}
	}
	return n
}

// acquired pairs the member and specific connection slot handed to a
// waiter, since release needs both to update health and slot accounting.
type acquired struct {
	member *member
	conn   *conn
}

// PoolConfig configures a Pool's servers and scaling bounds.
type PoolConfig struct {
	Servers     []string
	MinSize     int
	MaxSize     int
	Strategy    LoadBalanceStrategy
	AcquireWait time.Duration // how long Acquire waits for a slot before failing

	// MinConnPerServer/MaxConnPerServer bound each server's own connection
	// slot count (section 4.9's per-server [min_conn, max_conn]),
	// independent of MinSize/MaxSize's whole-pool server count.
	MinConnPerServer int
	MaxConnPerServer int
}

// Pool manages connections to multiple ElectrumX servers: health scoring,
// circuit breaking, load balancing, per-server connection-slot elasticity,
// and a waiter queue when every member is unhealthy or at capacity.
type Pool struct {
	mu       sync.Mutex
	cfg      PoolConfig
	members  []*member
	rrCursor int
	waiters  []chan *acquired
	dialer   func(url string) (*Client, error)
}

// NewPool dials MinConnPerServer connections for every configured server
// eagerly; a server that fails its first dial starts in CircuitOpen rather
// than aborting the whole pool.
func NewPool(cfg PoolConfig, dial func(url string) (*Client, error)) *Pool {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyHealthBased
	}
	if dial == nil {
		dial = func(url string) (*Client, error) { return NewClient(url) }
	}
	if cfg.MinConnPerServer <= 0 {
		cfg.MinConnPerServer = defaultMinConnPerServer
	}
	if cfg.MaxConnPerServer <= 0 {
		cfg.MaxConnPerServer = defaultMaxConnPerServer
	}
	if cfg.MaxConnPerServer < cfg.MinConnPerServer {
		cfg.MaxConnPerServer = cfg.MinConnPerServer
	}

	p := &Pool{cfg: cfg, dialer: dial}
	for _, url := range cfg.Servers {
		p.members = append(p.members, p.newMember(url))
	}
	return p
}

func (p *Pool) newMember(url string) *member {
	m := &member{url: url, weight: 1, health: 1, circuit: CircuitClosed, minConn: p.cfg.MinConnPerServer, maxConn: p.cfg.MaxConnPerServer}
	client, err := p.dialer(url)
	if err != nil {
		m.circuit = CircuitOpen
		m.openedAt = time.Now()
		return m
	}
	m.conns = append(m.conns, &conn{client: client})
	for len(m.conns) < m.minConn {
		extra, err := p.dialer(url)
		if err != nil {
			break
		}
		m.conns = append(m.conns, &conn{client: extra})
	}
	return m
}

// Acquire selects a healthy member per the pool's strategy and a free or
// freshly-grown connection slot within it, or blocks on a waiter queue
// until one is available or the context/AcquireWait deadline expires.
func (p *Pool) Acquire(ctx context.Context) (*Client, func(success bool), error) {
	p.mu.Lock()
	if m := p.pick(); m != nil {
		if c := p.acquireConnLocked(m); c != nil {
			p.mu.Unlock()
			return c.client, p.release(m, c), nil
		}
	}

	waitCh := make(chan *acquired, 1)
	p.waiters = append(p.waiters, waitCh)
	p.mu.Unlock()

	deadline := p.cfg.AcquireWait
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case a := <-waitCh:
		return a.conn.client, p.release(a.member, a.conn), nil
	case <-timer.C:
		return nil, nil, txerrors.New(txerrors.KindNoServersAvailable, "no healthy ElectrumX server available within %s", deadline)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (p *Pool) release(m *member, c *conn) func(success bool) {
	return func(success bool) {
		p.mu.Lock()
		defer p.mu.Unlock()

		c.inUse = false
		c.lastUsed = time.Now()
		p.recordOutcome(m, success)
		p.shrinkIfColdLocked(m)

		if len(p.waiters) > 0 && m.circuit != CircuitOpen {
			if next := p.acquireConnLocked(m); next != nil {
				waitCh := p.waiters[0]
				p.waiters = p.waiters[1:]
				waitCh <- &acquired{member: m, conn: next}
			}
		}
	}
}

func (p *Pool) recordOutcome(m *member, success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
		m.failures = 0
		if m.circuit == CircuitHalfOpen {
			m.circuit = CircuitClosed
		}
	} else {
		m.failures++
		if m.failures >= circuitFailureThreshold {
			m.circuit = CircuitOpen
			m.openedAt = time.Now()
		}
	}
	m.health = healthEWMAAlpha*outcome + (1-healthEWMAAlpha)*m.health
}

// pick must be called with p.mu held.
func (p *Pool) pick() *member {
	var candidates []*member
	now := time.Now()
	for _, m := range p.members {
		if m.circuit == CircuitOpen {
			if now.Sub(m.openedAt) >= circuitOpenCooldown {
				m.circuit = CircuitHalfOpen
			} else {
				continue
			}
		}
		if len(m.conns) == 0 {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil
	}

	switch p.cfg.Strategy {
	case StrategyRoundRobin:
		m := candidates[p.rrCursor%len(candidates)]
		p.rrCursor++
		return m
	case StrategyWeighted:
		return weightedPick(candidates)
	case StrategyLeastConnection:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].inUseCount() < candidates[j].inUseCount() })
		return candidates[0]
	default: // health-based
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].health > candidates[j].health })
		return candidates[0]
	}
}

func weightedPick(candidates []*member) *member {
	total := 0.0
	for _, m := range candidates {
		total += m.weight
	}
	if total <= 0 {
		return candidates[0]
	}
	r := rand.Float64() * total
	for _, m := range candidates {
		r -= m.weight
		if r <= 0 {
			return m
		}
	}
	return candidates[len(candidates)-1]
}

// acquireConnLocked returns an idle connection slot from m, first growing
// m's slot count per growIfHotLocked, then dialing a fresh one on demand if
// every existing slot is busy and there's still room under maxConn. Must
// be called with p.mu held.
func (p *Pool) acquireConnLocked(m *member) *conn {
	p.growIfHotLocked(m)

	for _, c := range m.conns {
		if !c.inUse {
			c.inUse = true
			c.lastUsed = time.Now()
			return c
		}
	}

	if len(m.conns) < m.maxConn {
		if client, err := p.dialer(m.url); err == nil {
			c := &conn{client: client, inUse: true, lastUsed: time.Now()}
			m.conns = append(m.conns, c)
			return c
		}
	}
	return nil
}

// growIfHotLocked implements section 4.9's "if a server's in_use/total >
// 0.8 and room exists, create a connection eagerly". Must be called with
// p.mu held.
func (p *Pool) growIfHotLocked(m *member) {
	total := len(m.conns)
	if total == 0 || total >= m.maxConn {
		return
	}
	if float64(m.inUseCount())/float64(total) <= slotGrowRatio {
		return
	}
	if client, err := p.dialer(m.url); err == nil {
		m.conns = append(m.conns, &conn{client: client})
	}
}

// shrinkIfColdLocked implements section 4.9's "if in_use/total < 0.2 and
// total > min_conn, retire the oldest idle connection". Must be called
// with p.mu held.
func (p *Pool) shrinkIfColdLocked(m *member) {
	total := len(m.conns)
	if total <= m.minConn {
		return
	}
	if float64(m.inUseCount())/float64(total) >= slotShrinkRatio {
		return
	}

	oldest := -1
	for i, c := range m.conns {
		if c.inUse {
			continue
		}
		if oldest == -1 || c.lastUsed.Before(m.conns[oldest].lastUsed) {
			oldest = i
		}
	}
	if oldest < 0 {
		return
	}
	m.conns[oldest].client.Close()
	m.conns = append(m.conns[:oldest], m.conns[oldest+1:]...)
}

// Scale adjusts the pool toward a target member count within
// [MinSize, MaxSize] (the global max_pool_size cap), dialing new servers
// from candidateURLs or dropping the least-healthy existing ones. This is
// independent of each member's own per-server slot elasticity, which
// growIfHotLocked/shrinkIfColdLocked maintain continuously on every
// Acquire/release.
func (p *Pool) Scale(target int, candidateURLs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if target < p.cfg.MinSize {
		target = p.cfg.MinSize
	}
	if p.cfg.MaxSize > 0 && target > p.cfg.MaxSize {
		target = p.cfg.MaxSize
	}

	for len(p.members) < target && len(candidateURLs) > 0 {
		url := candidateURLs[0]
		candidateURLs = candidateURLs[1:]
		p.members = append(p.members, p.newMember(url))
	}

	for len(p.members) > target {
		sort.Slice(p.members, func(i, j int) bool { return p.members[i].health < p.members[j].health })
		drop := p.members[0]
		for _, c := range drop.conns {
			c.client.Close()
		}
		p.members = p.members[1:]
	}

	return nil
}

// Close closes every member connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.members {
		for _, c := range m.conns {
			c.client.Close()
		}
	}
}

// Status summarizes pool health for diagnostics.
type Status struct {
	URL           string
	Circuit       CircuitState
	Health        float64
	ActiveCalls   int
	TotalConns    int
	MinConn       int
	MaxConn       int
}

// Statuses returns a snapshot of every member's health and slot counts.
func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, len(p.members))
	for i, m := range p.members {
		out[i] = Status{
			URL:         m.url,
			Circuit:     m.circuit,
			Health:      m.health,
			ActiveCalls: m.inUseCount(),
			TotalConns:  len(m.conns),
			MinConn:     m.minConn,
			MaxConn:     m.maxConn,
		}
	}
	return out
}

func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%d members)", len(p.members))
}
