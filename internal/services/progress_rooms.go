package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/vitrina/api/internal/domain"
)

// ProgressEvent is the event name broadcast for job progress updates.
const ProgressEvent = "job:progress"

const (
	defaultRoomCapacity       = 5
	defaultRoomTTL            = 30 * time.Minute
	defaultRoomJoinsPerMinute = 10
	defaultRoomSweepInterval  = 5 * time.Minute
	joinRateWindow            = time.Minute
)

// BroadcastTransport delivers an event to every connection currently in a room.
type BroadcastTransport interface {
	Emit(ctx context.Context, roomID string, event string, payload any) error
}

// ProgressPayload is the body of a job:progress event.
type ProgressPayload struct {
	Step     string         `json:"step"`
	Progress int            `json:"progress"`
	Data     map[string]any `json:"data,omitempty"`
}

// NopNotifier discards progress updates.
type NopNotifier struct{}

// EmitProgress implements ProgressNotifier.
func (NopNotifier) EmitProgress(context.Context, string, string, int, map[string]any) {}

// RoomManagerOptions configures a RoomManager. Zero values fall back to defaults.
type RoomManagerOptions struct {
	Clock          func() time.Time
	IDGenerator    func() string
	Capacity       int
	TTL            time.Duration
	JoinsPerMinute int
	SweepInterval  time.Duration
	Transport      BroadcastTransport
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type progressRoom struct {
	id        string
	members   map[string]struct{}
	createdAt time.Time
	expiresAt time.Time
}

// RoomManager tracks expiring, capacity-bounded rooms that scope job progress broadcasts.
type RoomManager struct {
	clock          func() time.Time
	newID          func() string
	capacity       int
	ttl            time.Duration
	joinsPerMinute int
	sweepInterval  time.Duration
	logger         func(context.Context, string, map[string]any)

	mu          sync.Mutex
	transport   BroadcastTransport
	rooms       map[string]*progressRoom
	memberships map[string]map[string]struct{}
	joinWindows map[string][]time.Time
}

// NewRoomManager constructs a RoomManager.
func NewRoomManager(opts RoomManagerOptions) *RoomManager {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	m := &RoomManager{
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		capacity:       positiveOr(opts.Capacity, defaultRoomCapacity),
		ttl:            durationOr(opts.TTL, defaultRoomTTL),
		joinsPerMinute: positiveOr(opts.JoinsPerMinute, defaultRoomJoinsPerMinute),
		sweepInterval:  durationOr(opts.SweepInterval, defaultRoomSweepInterval),
		logger:         logger,
		transport:      opts.Transport,
		rooms:          make(map[string]*progressRoom),
		memberships:    make(map[string]map[string]struct{}),
		joinWindows:    make(map[string][]time.Time),
	}
	return m
}

// AttachTransport sets the broadcast transport after construction, for transports that need the manager themselves.
func (m *RoomManager) AttachTransport(transport BroadcastTransport) {
	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()
}

// CreateRoom registers a new empty room.
func (m *RoomManager) CreateRoom(ctx context.Context) (domain.ProgressRoom, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProgressRoom{}, err
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()
	var id string
	for attempt := 0; attempt < 3; attempt++ {
		candidate := m.newID()
		if _, exists := m.rooms[candidate]; candidate != "" && !exists {
			id = candidate
			break
		}
	}
	if id == "" {
		return domain.ProgressRoom{}, errors.New("rooms: could not allocate a unique room id")
	}
	room := &progressRoom{
		id:        id,
		members:   make(map[string]struct{}),
		createdAt: now,
		expiresAt: now.Add(m.ttl),
	}
	m.rooms[id] = room
	return room.snapshot(), nil
}

// JoinRoom adds the connection to the room. It returns false when the room is missing, expired, full,
// or the connection exceeded its join rate. Joining a room twice is a no-op that reports true.
func (m *RoomManager) JoinRoom(connID, roomID string) bool {
	if connID == "" || roomID == "" {
		return false
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.allowJoinLocked(connID, now) {
		return false
	}
	room, ok := m.rooms[roomID]
	if !ok {
		return false
	}
	if !now.Before(room.expiresAt) {
		m.deleteRoomLocked(room)
		return false
	}
	if _, member := room.members[connID]; member {
		return true
	}
	if len(room.members) >= m.capacity {
		return false
	}
	room.members[connID] = struct{}{}
	rooms := m.memberships[connID]
	if rooms == nil {
		rooms = make(map[string]struct{})
		m.memberships[connID] = rooms
	}
	rooms[roomID] = struct{}{}
	return true
}

// LeaveRoom removes the connection from roomID, or from every room when roomID is empty.
// Rooms left without members are deleted.
func (m *RoomManager) LeaveRoom(connID, roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, roomID)
}

// Disconnect removes the connection from all rooms and forgets its join history.
func (m *RoomManager) Disconnect(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(connID, "")
	delete(m.joinWindows, connID)
}

// Sweep deletes every room expired at now and returns how many were removed.
func (m *RoomManager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, room := range m.rooms {
		if !now.Before(room.expiresAt) {
			m.deleteRoomLocked(room)
			removed++
		}
	}
	for connID, window := range m.joinWindows {
		if len(window) == 0 || now.Sub(window[len(window)-1]) >= joinRateWindow {
			delete(m.joinWindows, connID)
		}
	}
	return removed
}

// Run sweeps expired rooms on the configured interval until ctx is cancelled.
func (m *RoomManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.Sweep(m.clock()); removed > 0 {
				m.logger(ctx, "rooms.swept", map[string]any{"removed": removed})
			}
		}
	}
}

// Members lists the connections in the room, sorted.
func (m *RoomManager) Members(roomID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return room.memberList()
}

// Room returns a snapshot of the room.
func (m *RoomManager) Room(roomID string) (domain.ProgressRoom, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return domain.ProgressRoom{}, false
	}
	return room.snapshot(), true
}

// EmitProgress broadcasts a job:progress event to the room. Delivery failures are logged and never returned.
func (m *RoomManager) EmitProgress(ctx context.Context, roomID string, step string, percent int, data map[string]any) {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()
	if transport == nil || roomID == "" {
		return
	}
	payload := ProgressPayload{Step: step, Progress: clampPercent(percent), Data: data}
	if err := transport.Emit(ctx, roomID, ProgressEvent, payload); err != nil {
		m.logger(ctx, "rooms.emit_failed", map[string]any{
			"error":  err.Error(),
			"roomId": roomID,
			"step":   step,
		})
	}
}

func (m *RoomManager) allowJoinLocked(connID string, now time.Time) bool {
	window := m.joinWindows[connID]
	kept := window[:0]
	for _, at := range window {
		if now.Sub(at) < joinRateWindow {
			kept = append(kept, at)
		}
	}
	if len(kept) >= m.joinsPerMinute {
		m.joinWindows[connID] = kept
		return false
	}
	m.joinWindows[connID] = append(kept, now)
	return true
}

func (m *RoomManager) leaveLocked(connID, roomID string) {
	rooms := m.memberships[connID]
	if len(rooms) == 0 {
		return
	}
	targets := []string{roomID}
	if roomID == "" {
		targets = make([]string, 0, len(rooms))
		for id := range rooms {
			targets = append(targets, id)
		}
	}
	for _, id := range targets {
		delete(rooms, id)
		room, ok := m.rooms[id]
		if !ok {
			continue
		}
		delete(room.members, connID)
		if len(room.members) == 0 {
			delete(m.rooms, id)
		}
	}
	if len(rooms) == 0 {
		delete(m.memberships, connID)
	}
}

func (m *RoomManager) deleteRoomLocked(room *progressRoom) {
	for connID := range room.members {
		if rooms := m.memberships[connID]; rooms != nil {
			delete(rooms, room.id)
			if len(rooms) == 0 {
				delete(m.memberships, connID)
			}
		}
	}
	delete(m.rooms, room.id)
}

func (r *progressRoom) memberList() []string {
	members := make([]string, 0, len(r.members))
	for id := range r.members {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

func (r *progressRoom) snapshot() domain.ProgressRoom {
	return domain.ProgressRoom{
		ID:        r.id,
		Members:   r.memberList(),
		CreatedAt: r.createdAt,
		ExpiresAt: r.expiresAt,
	}
}

func clampPercent(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
