package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type emitted struct {
	roomID  string
	event   string
	payload ProgressPayload
}

type recordingTransport struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (r *recordingTransport) Emit(_ context.Context, roomID string, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	p, _ := payload.(ProgressPayload)
	r.events = append(r.events, emitted{roomID: roomID, event: event, payload: p})
	return nil
}

func (r *recordingTransport) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func newTestRooms(clock *fakeClock, transport BroadcastTransport) *RoomManager {
	return NewRoomManager(RoomManagerOptions{
		Clock:       clock.Now,
		IDGenerator: sequenceIDs("room-"),
		Transport:   transport,
	})
}

func TestRoomManagerCapacityAndIdempotentJoin(t *testing.T) {
	clock := &fakeClock{now: testNow}
	rooms := newTestRooms(clock, nil)
	room, err := rooms.CreateRoom(context.Background())
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if !room.ExpiresAt.Equal(testNow.Add(30 * time.Minute)) {
		t.Fatalf("expected 30 minute ttl, got %v", room.ExpiresAt)
	}

	for i := 0; i < 5; i++ {
		if !rooms.JoinRoom(fmt.Sprintf("conn-%d", i), room.ID) {
			t.Fatalf("expected join %d to succeed", i)
		}
	}
	if !rooms.JoinRoom("conn-0", room.ID) {
		t.Fatalf("expected rejoin of an existing member to succeed")
	}
	if rooms.JoinRoom("conn-5", room.ID) {
		t.Fatalf("expected sixth member to be rejected")
	}
	if got := len(rooms.Members(room.ID)); got != 5 {
		t.Fatalf("expected 5 members, got %d", got)
	}
	if rooms.JoinRoom("conn-0", "missing") {
		t.Fatalf("expected unknown room to be rejected")
	}
}

func TestRoomManagerJoinRateLimit(t *testing.T) {
	clock := &fakeClock{now: testNow}
	rooms := newTestRooms(clock, nil)
	room, _ := rooms.CreateRoom(context.Background())

	for i := 0; i < 10; i++ {
		rooms.JoinRoom("conn-1", room.ID)
	}
	rooms.LeaveRoom("conn-1", room.ID)
	other, _ := rooms.CreateRoom(context.Background())
	if rooms.JoinRoom("conn-1", other.ID) {
		t.Fatalf("expected eleventh join within a minute to be rate limited")
	}

	clock.Advance(61 * time.Second)
	if !rooms.JoinRoom("conn-1", other.ID) {
		t.Fatalf("expected join after the window to succeed")
	}

	rooms.Disconnect("conn-1")
	if members := rooms.Members(other.ID); len(members) != 0 {
		t.Fatalf("expected disconnect to leave rooms, got %v", members)
	}
}

func TestRoomManagerLeaveDeletesEmptyRooms(t *testing.T) {
	clock := &fakeClock{now: testNow}
	rooms := newTestRooms(clock, nil)
	a, _ := rooms.CreateRoom(context.Background())
	b, _ := rooms.CreateRoom(context.Background())

	rooms.JoinRoom("conn-1", a.ID)
	rooms.JoinRoom("conn-1", b.ID)
	rooms.JoinRoom("conn-2", b.ID)

	rooms.LeaveRoom("conn-1", "")
	if _, ok := rooms.Room(a.ID); ok {
		t.Fatalf("expected empty room to be deleted")
	}
	room, ok := rooms.Room(b.ID)
	if !ok || len(room.Members) != 1 || room.Members[0] != "conn-2" {
		t.Fatalf("expected conn-2 to remain in room b, got %+v", room)
	}
}

func TestRoomManagerExpiry(t *testing.T) {
	clock := &fakeClock{now: testNow}
	rooms := newTestRooms(clock, nil)
	room, _ := rooms.CreateRoom(context.Background())
	stale, _ := rooms.CreateRoom(context.Background())
	rooms.JoinRoom("conn-1", room.ID)

	clock.Advance(30 * time.Minute)
	if rooms.JoinRoom("conn-2", stale.ID) {
		t.Fatalf("expected expired room to reject joins")
	}
	if _, ok := rooms.Room(stale.ID); ok {
		t.Fatalf("expected expired room to be dropped on join")
	}

	if removed := rooms.Sweep(clock.Now()); removed != 1 {
		t.Fatalf("expected sweep to remove one room, got %d", removed)
	}
	if _, ok := rooms.Room(room.ID); ok {
		t.Fatalf("expected room to be swept")
	}
}

func TestRoomManagerEmitProgress(t *testing.T) {
	clock := &fakeClock{now: testNow}
	transport := &recordingTransport{}
	rooms := newTestRooms(clock, transport)

	rooms.EmitProgress(context.Background(), "room-A", "validating", 10, nil)
	rooms.EmitProgress(context.Background(), "room-A", "completed", 140, map[string]any{"fileName": "c.pdf"})

	events := transport.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].event != ProgressEvent || events[0].payload.Step != "validating" || events[0].payload.Progress != 10 {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if events[1].payload.Progress != 100 || events[1].payload.Data["fileName"] != "c.pdf" {
		t.Fatalf("expected clamped progress with data, got %+v", events[1])
	}
}

func TestRoomManagerEmitProgressSwallowsTransportErrors(t *testing.T) {
	clock := &fakeClock{now: testNow}
	var logged []string
	rooms := NewRoomManager(RoomManagerOptions{
		Clock:     clock.Now,
		Transport: &recordingTransport{err: errors.New("socket closed")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})

	rooms.EmitProgress(context.Background(), "room-1", "starting", 0, nil)
	if len(logged) != 1 || logged[0] != "rooms.emit_failed" {
		t.Fatalf("expected failure to be logged, got %v", logged)
	}

	var notifier ProgressNotifier = NopNotifier{}
	notifier.EmitProgress(context.Background(), "room-1", "starting", 0, nil)
}

func TestRoomManagerRunStopsOnCancel(t *testing.T) {
	rooms := NewRoomManager(RoomManagerOptions{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rooms.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return after cancel")
	}
}
