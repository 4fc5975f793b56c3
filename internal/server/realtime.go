package server

import (
	"sync"
)

const defaultSendBuffer = 16

// Member is one channel connection registered with the hub.
type Member struct {
	id        int64
	stream    chan []byte
	evicted   chan struct{}
	evictOnce sync.Once
}

func (m *Member) ID() int64 {
	return m.id
}

// Stream yields the frames queued for this connection.
func (m *Member) Stream() <-chan []byte {
	return m.stream
}

// Evicted is closed once the member fell too far behind and must disconnect.
func (m *Member) Evicted() <-chan struct{} {
	return m.evicted
}

func (m *Member) evict() bool {
	evicted := false
	m.evictOnce.Do(func() {
		close(m.evicted)
		evicted = true
	})
	return evicted
}

type HubConfig struct {
	BufferSize int
	Metrics    *Metrics
}

// Hub groups channel connections by session and fans broadcasts out to them.
type Hub struct {
	mu          sync.RWMutex
	groups      map[string]map[int64]*Member
	memberships map[int64]map[string]struct{}
	nextID      int64
	bufferSize  int
	metrics     *Metrics

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewHub(cfg HubConfig) *Hub {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &Hub{
		groups:      make(map[string]map[int64]*Member),
		memberships: make(map[int64]map[string]struct{}),
		bufferSize:  bufferSize,
		metrics:     cfg.Metrics,
		locks:       make(map[string]*sessionLock),
	}
}

// Connect registers a connection that belongs to no session yet.
func (h *Hub) Connect() *Member {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	member := &Member{
		id:      h.nextID,
		stream:  make(chan []byte, h.bufferSize),
		evicted: make(chan struct{}),
	}
	h.memberships[member.id] = make(map[string]struct{})
	h.metrics.connectionOpened()
	return member
}

// Join adds the member to the session's broadcast group. Joining twice is a no-op.
func (h *Hub) Join(member *Member, sessionID string) {
	if member == nil || sessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	memberships, connected := h.memberships[member.id]
	if !connected {
		return
	}
	if _, ok := h.groups[sessionID]; !ok {
		h.groups[sessionID] = make(map[int64]*Member)
	}
	h.groups[sessionID][member.id] = member
	memberships[sessionID] = struct{}{}
}

// Disconnect removes the member from every group it joined.
func (h *Hub) Disconnect(member *Member) {
	if member == nil {
		return
	}
	h.mu.Lock()
	memberships, connected := h.memberships[member.id]
	if connected {
		for sessionID := range memberships {
			group := h.groups[sessionID]
			delete(group, member.id)
			if len(group) == 0 {
				delete(h.groups, sessionID)
			}
		}
		delete(h.memberships, member.id)
	}
	h.mu.Unlock()
	if connected {
		h.metrics.connectionClosed()
	}
}

// Broadcast queues frame for every member of the session except the sender.
// A member whose queue is full is evicted instead of blocking the sender.
func (h *Hub) Broadcast(sessionID string, except *Member, frame []byte) int {
	h.mu.RLock()
	group := h.groups[sessionID]
	recipients := make([]*Member, 0, len(group))
	for _, member := range group {
		if except != nil && member.id == except.id {
			continue
		}
		recipients = append(recipients, member)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, member := range recipients {
		select {
		case member.stream <- frame:
			delivered++
		default:
			if member.evict() {
				h.metrics.memberEvicted()
			}
		}
	}
	h.metrics.broadcastDelivered(delivered)
	return delivered
}

// GroupSize reports how many connections joined the session.
func (h *Hub) GroupSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[sessionID])
}

// Serialize runs fn while holding the session's lock, so updates to one
// session apply one at a time while other sessions proceed independently.
func (h *Hub) Serialize(sessionID string, fn func()) {
	h.locksMu.Lock()
	lock, ok := h.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		h.locks[sessionID] = lock
	}
	lock.refs++
	h.locksMu.Unlock()

	lock.mu.Lock()
	defer func() {
		lock.mu.Unlock()
		h.locksMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(h.locks, sessionID)
		}
		h.locksMu.Unlock()
	}()
	fn()
}
