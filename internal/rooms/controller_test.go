package rooms

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"callbridge/internal/session"
)

func newTestController(t *testing.T) (*Controller, *session.SimProvider) {
	t.Helper()
	provider := session.NewSimProvider()
	provider.ConnectDelay = time.Millisecond
	c := NewController(provider, NewMemoryRegistry(), "ST_test", nil)
	c.retryBackoff = time.Millisecond
	return c, provider
}

func TestCreateRoom_IdempotentByIdentity(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	a, err := c.CreateRoom(ctx, "call-1", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	b, err := c.CreateRoom(ctx, "call-1", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.Name != b.Name {
		t.Fatalf("expected same room for same identity, got %q and %q", a.Name, b.Name)
	}
}

// flakyProvider fails CreateRoom with a transient error a fixed number of
// times before delegating to the sim.
type flakyProvider struct {
	*session.SimProvider
	failures int
	calls    int
}

func (p *flakyProvider) CreateRoom(ctx context.Context, req session.CreateRoomRequest) (session.Room, error) {
	p.calls++
	if p.calls <= p.failures {
		return session.Room{}, fmt.Errorf("%w: connection refused", session.ErrProviderUnavailable)
	}
	return p.SimProvider.CreateRoom(ctx, req)
}

func TestCreateRoom_RetriesTransientFailures(t *testing.T) {
	provider := &flakyProvider{SimProvider: session.NewSimProvider(), failures: 2}
	c := NewController(provider, NewMemoryRegistry(), "ST_test", nil)
	c.retryBackoff = time.Millisecond

	if _, err := c.CreateRoom(context.Background(), "call-1", ""); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", provider.calls)
	}
}

func TestCreateRoom_SurfacesAfterRetryBudget(t *testing.T) {
	provider := &flakyProvider{SimProvider: session.NewSimProvider(), failures: 10}
	c := NewController(provider, NewMemoryRegistry(), "ST_test", nil)
	c.retryBackoff = time.Millisecond

	_, err := c.CreateRoom(context.Background(), "call-1", "")
	if !errors.Is(err, session.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if provider.calls != 3 {
		t.Fatalf("expected retry bound of 3 attempts, got %d", provider.calls)
	}
}

func TestPlaceLeg_RejectsInvalidDestinationBeforeDial(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	room, _ := c.CreateRoom(ctx, "call-1", "")

	_, err := c.PlaceLeg(ctx, room.Name, "not-a-number", "customer", session.CallParams{})
	if !errors.Is(err, session.ErrInvalidDestination) {
		t.Fatalf("expected ErrInvalidDestination, got %v", err)
	}
}

func TestPlaceLeg_StartsDialingThenConnects(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	room, _ := c.CreateRoom(ctx, "call-1", "")

	leg, err := c.PlaceLeg(ctx, room.Name, "+15550000001", "customer", session.CallParams{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if leg.Status() != session.LegDialing {
		t.Fatalf("expected dialing immediately after place, got %q", leg.Status())
	}
	if err := c.AwaitConnected(ctx, leg, time.Second); err != nil {
		t.Fatalf("expected connect, got %v", err)
	}
	if leg.Status() != session.LegConnected {
		t.Fatalf("expected connected, got %q", leg.Status())
	}
}

func TestAwaitConnected_FailsOnLegFailure(t *testing.T) {
	c, provider := newTestController(t)
	provider.ConnectDelay = time.Hour // never connects on its own
	ctx := context.Background()
	room, _ := c.CreateRoom(ctx, "call-1", "")

	leg, err := c.PlaceLeg(ctx, room.Name, "+15550000001", "customer", session.CallParams{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	go provider.FailLeg(leg.ID(), "busy")

	err = c.AwaitConnected(ctx, leg, time.Second)
	if !errors.Is(err, session.ErrDialFailure) {
		t.Fatalf("expected ErrDialFailure, got %v", err)
	}
}

func TestMergeRooms_RequiresActiveLegs(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	roomA, _ := c.CreateRoom(ctx, "call-a", "")
	roomB, _ := c.CreateRoom(ctx, "call-b", "")

	err := c.MergeRooms(ctx, roomA.Name, roomB.Name)
	if !errors.Is(err, session.ErrMergeFailure) {
		t.Fatalf("expected ErrMergeFailure for empty rooms, got %v", err)
	}
}

func TestMergeRooms_MovesLegsIntoOneRoom(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	roomA, _ := c.CreateRoom(ctx, "call-a", "")
	roomB, _ := c.CreateRoom(ctx, "call-b", "")

	legA, err := c.PlaceLeg(ctx, roomA.Name, "+15550000001", "customer", session.CallParams{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	legB, err := c.PlaceLeg(ctx, roomB.Name, "+15550000002", "supervisor", session.CallParams{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := c.AwaitConnected(ctx, legA, time.Second); err != nil {
		t.Fatalf("legA connect: %v", err)
	}
	if err := c.AwaitConnected(ctx, legB, time.Second); err != nil {
		t.Fatalf("legB connect: %v", err)
	}

	if err := c.MergeRooms(ctx, roomA.Name, roomB.Name); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if legA.Status() != session.LegMerged || legB.Status() != session.LegMerged {
		t.Fatalf("expected merged legs, got %q and %q", legA.Status(), legB.Status())
	}
	if legB.RoomName() != roomA.Name {
		t.Fatalf("expected legB moved into %q, got %q", roomA.Name, legB.RoomName())
	}
}

func TestEndLeg_BestEffortWhenAlreadyGone(t *testing.T) {
	c, provider := newTestController(t)
	ctx := context.Background()
	room, _ := c.CreateRoom(ctx, "call-1", "")

	leg, err := c.PlaceLeg(ctx, room.Name, "+15550000001", "customer", session.CallParams{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	provider.DisconnectLeg(leg.ID())

	// Must not panic or propagate; leg ends either way.
	c.EndLeg(ctx, leg)
	if leg.Status() != "ended" {
		t.Fatalf("expected ended, got %q", leg.Status())
	}
}
