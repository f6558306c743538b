package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/priyanshumishra610/SentinelVNC/internal/event"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Active State = iota
	Contained
	Closed
)

func (s State) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case Contained:
		return "CONTAINED"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Session is one client TCP connection mediated by the proxy. It is created
// on accept, mutated only by its owning forwarder pair, and destroyed on
// close. Once State transitions to Contained it is terminal: no further
// bytes are forwarded in either direction and no new verdicts are produced.
type Session struct {
	ID                string
	ClientEndpoint    string
	UpstreamEndpoint  string
	StartedAt         time.Time

	c2sBytes   int64
	s2cBytes   int64
	c2sPackets int64
	s2cPackets int64
	lastActivityUnixNano int64

	Recent *Window

	state int32 // atomic State
}

// NewSession allocates a Session and its ring buffer.
func NewSession(clientEndpoint, upstreamEndpoint string) *Session {
	now := time.Now()
	return &Session{
		ID:                   GenerateID(clientEndpoint, now),
		ClientEndpoint:       clientEndpoint,
		UpstreamEndpoint:     upstreamEndpoint,
		StartedAt:            now,
		Recent:               NewWindow(),
		lastActivityUnixNano: now.UnixNano(),
		state:                int32(Active),
	}
}

// GenerateID builds a globally unique session id in the original source's
// "session_<ip>_<port>_<unixtime>" shape, with a short uuid suffix so two
// sessions from the same client endpoint within the same wall-clock second
// never collide under concurrent accepts (spec.md §9 supplement).
func GenerateID(clientEndpoint string, at time.Time) string {
	return fmt.Sprintf("session_%s_%d_%s", clientEndpoint, at.Unix(), uuid.NewString()[:8])
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// TryContain atomically transitions the session to Contained iff it is
// currently Active, returning whether the transition happened. Idempotent:
// calling it again on an already-Contained session returns false without
// error (spec.md §7 "containment race").
func (s *Session) TryContain() bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(Active), int32(Contained))
}

// Close marks the session Closed. Valid from any state.
func (s *Session) Close() {
	atomic.StoreInt32(&s.state, int32(Closed))
}

// RecordChunk updates counters and last-activity for a forwarded chunk.
// It does not append to the ring; callers append separately so the sample
// used for rule evaluation and the counters stay consistent with the order
// the spec's invariant 3 (sampling completeness) describes.
func (s *Session) RecordChunk(dir event.Direction, n int64) {
	atomic.StoreInt64(&s.lastActivityUnixNano, time.Now().UnixNano())
	if dir == event.ClientToServer {
		atomic.AddInt64(&s.c2sBytes, n)
		atomic.AddInt64(&s.c2sPackets, 1)
	} else {
		atomic.AddInt64(&s.s2cBytes, n)
		atomic.AddInt64(&s.s2cPackets, 1)
	}
}

// Counters is an immutable snapshot of session traffic counters.
type Counters struct {
	C2SBytes   int64
	S2CBytes   int64
	C2SPackets int64
	S2CPackets int64
}

// CountersSnapshot returns a consistent-enough snapshot for alert-payload assembly.
// Individual fields are read atomically; the tuple is not transactional,
// matching the original source's plain-dict read under no lock.
func (s *Session) CountersSnapshot() Counters {
	return Counters{
		C2SBytes:   atomic.LoadInt64(&s.c2sBytes),
		S2CBytes:   atomic.LoadInt64(&s.s2cBytes),
		C2SPackets: atomic.LoadInt64(&s.c2sPackets),
		S2CPackets: atomic.LoadInt64(&s.s2cPackets),
	}
}

// LastActivity returns the time of the most recently forwarded chunk.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&s.lastActivityUnixNano))
}

// Duration returns elapsed time since session start.
func (s *Session) Duration() time.Duration {
	return time.Since(s.StartedAt)
}

// Registry owns the set of live sessions for one proxy process. Put and
// Delete take the registry's write lock and Get and Len its read lock;
// nothing on the hot forwarding path touches it, mirroring the teacher's ownership
// split between a route-level sync.Map and the fine-grained per-key lock
// (internal/anom/detector.go in the teacher repo).
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Session
}

// NewRegistry returns an empty session Registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Session)}
}

// Put registers a Session.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.ID] = s
}

// Get retrieves a Session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.m[id]
	return s, ok
}

// Delete removes a Session from the registry (called on close).
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
