package session

import (
	"fmt"
	"net"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/wire"
)

// Registry is the arena of connected sessions. Ids are stable for the
// process lifetime; removal never disturbs other live ids. The registry is
// owned by the server loop goroutine and needs no locking.
type Registry struct {
	logger   *logging.Logger
	sessions map[int]*Session
	nextID   int

	// ghostFrameRate throttles relayed ghost frames per sending session.
	ghostFrameRate rate.Limit

	observer TrafficObserver
}

// SetTrafficObserver installs the outbound stream counter on sessions added
// from this point on.
func (r *Registry) SetTrafficObserver(o TrafficObserver) { r.observer = o }

// NewRegistry builds an empty registry. ghostFramesPerSecond bounds relayed
// ghost-mode frames per sender; zero disables the limit.
func NewRegistry(logger *logging.Logger, ghostFramesPerSecond int) *Registry {
	return &Registry{
		logger:         logger,
		sessions:       make(map[int]*Session),
		ghostFrameRate: rate.Limit(ghostFramesPerSecond),
	}
}

// Add registers a new session for an accepted stream connection and returns
// it. Callers perform the ban and capacity checks before this point.
func (r *Registry) Add(tcp net.Conn, udp PacketSender, remoteIP string, now time.Time) *Session {
	id := r.nextID
	r.nextID++
	s := &Session{
		ID:           id,
		tcp:          tcp,
		udp:          udp,
		remoteIP:     remoteIP,
		reader:       wire.NewFrameReader(),
		lastActivity: now,
		warnedBucket: -1,
		observer:     r.observer,
	}
	if r.ghostFrameRate > 0 {
		s.ghostFrames = rate.NewLimiter(r.ghostFrameRate, int(r.ghostFrameRate))
	}
	r.sessions[id] = s
	return s
}

// Get resolves a session by id.
func (r *Registry) Get(id int) (*Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrClientNotFound, id)
	}
	return s, nil
}

// Remove withdraws a session from the registry and returns it for teardown.
// A second removal of the same id reports ErrClientNotFound with no side
// effects.
func (r *Registry) Remove(id int) (*Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrClientNotFound, id)
	}
	delete(r.sessions, id)
	return s, nil
}

// Len returns the number of connected sessions.
func (r *Registry) Len() int { return len(r.sessions) }

// NamedCount counts sessions that have announced a display name.
func (r *Registry) NamedCount() int {
	count := 0
	for _, s := range r.sessions {
		if s.Name() != "" {
			count++
		}
	}
	return count
}

// All returns the sessions ordered by id.
func (r *Registry) All() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Marked returns the marked-to-play sessions ordered by id.
func (r *Registry) Marked() []*Session {
	var out []*Session
	for _, s := range r.All() {
		if s.Marked() {
			out = append(out, s)
		}
	}
	return out
}

// FindByBindKey resolves the session awaiting a UDP bind with this key.
func (r *Registry) FindByBindKey(key string) *Session {
	if key == "" {
		return nil
	}
	for _, s := range r.sessions {
		if !s.UDPBound() && s.BindKey() == key {
			return s
		}
	}
	return nil
}

// FindByUDPAddr resolves the session bound to a datagram source address.
func (r *Registry) FindByUDPAddr(addr net.Addr) *Session {
	for _, s := range r.sessions {
		if s.MatchesUDPAddr(addr) {
			return s
		}
	}
	return nil
}

// Broadcast sends to every session except the given id; -1 excludes nobody.
// Per-recipient failures are logged and swallowed.
func (r *Registry) Broadcast(env wire.Envelope, exceptID int) {
	for _, s := range r.All() {
		if s.ID == exceptID {
			continue
		}
		r.sendLogged(s, env)
	}
}

// BroadcastToMarked sends to every marked-to-play session except exceptID.
func (r *Registry) BroadcastToMarked(env wire.Envelope, exceptID int) {
	for _, s := range r.Marked() {
		if s.ID == exceptID {
			continue
		}
		r.sendLogged(s, env)
	}
}

// BroadcastToMode sends to every session in the given mode except exceptID.
func (r *Registry) BroadcastToMode(mode wire.Mode, env wire.Envelope, exceptID int) {
	for _, s := range r.All() {
		if s.ID == exceptID || s.Mode() != mode {
			continue
		}
		r.sendLogged(s, env)
	}
}

// SendTo sends to one session by id.
func (r *Registry) SendTo(id int, env wire.Envelope) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Send(env)
}

func (r *Registry) sendLogged(s *Session, env wire.Envelope) {
	if err := s.Send(env); err != nil {
		r.logger.Debug("broadcast delivery failed",
			logging.Int("client", s.ID), logging.String("action", env.Action.Key()), logging.Error(err))
	}
}
