package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimProvider is an in-process provider for local runs and tests. Legs
// connect after a short, configurable delay and stay up until hung up.
// It implements the full Provider contract so orchestration code can run
// without a media server.
type SimProvider struct {
	mu    sync.Mutex
	rooms map[string]Room
	legs  map[string]*simLeg
	hub   *Hub

	// ConnectDelay is how long a dialed leg stays in dialing.
	ConnectDelay time.Duration
}

type simLeg struct {
	info   LegInfo
	status LegStatus
}

func NewSimProvider() *SimProvider {
	return &SimProvider{
		rooms:        make(map[string]Room),
		legs:         make(map[string]*simLeg),
		hub:          NewHub(),
		ConnectDelay: 10 * time.Millisecond,
	}
}

func (p *SimProvider) Name() string { return "sim" }

func (p *SimProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *SimProvider) CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if room, ok := p.rooms[req.Name]; ok {
		return room, nil
	}
	room := Room{Name: req.Name, SID: "RM_" + uuid.NewString()[:8], CreatedAt: time.Now().UTC()}
	p.rooms[req.Name] = room
	return room, nil
}

func (p *SimProvider) DeleteRoom(ctx context.Context, roomName string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms, roomName)
	for id, leg := range p.legs {
		if leg.info.RoomName == roomName && !leg.status.Terminal() {
			leg.status = LegEnded
			p.publishLocked(id, LegEnded, "room deleted")
		}
	}
	return nil
}

func (p *SimProvider) Dial(ctx context.Context, req DialRequest) (LegInfo, error) {
	p.mu.Lock()
	if _, ok := p.rooms[req.RoomName]; !ok {
		p.mu.Unlock()
		return LegInfo{}, fmt.Errorf("%w: room %q not found", ErrDialFailure, req.RoomName)
	}
	id := "LG_" + uuid.NewString()[:8]
	leg := &simLeg{
		info:   LegInfo{LegID: id, RoomName: req.RoomName, Address: req.Destination, Status: LegDialing},
		status: LegDialing,
	}
	p.legs[id] = leg
	p.mu.Unlock()

	go func() {
		timer := time.NewTimer(p.ConnectDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if leg.status == LegDialing {
			leg.status = LegConnected
			p.publishLocked(id, LegConnected, "")
		}
	}()
	return leg.info, nil
}

func (p *SimProvider) LegStatus(ctx context.Context, legID string) (LegStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	leg, ok := p.legs[legID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrLegGone, legID)
	}
	return leg.status, nil
}

func (p *SimProvider) SetHold(ctx context.Context, legID string, hold bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	leg, ok := p.legs[legID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLegGone, legID)
	}
	if leg.status.Terminal() {
		return fmt.Errorf("%w: %s already %s", ErrLegGone, legID, leg.status)
	}
	if hold {
		leg.status = LegOnHold
		p.publishLocked(legID, LegOnHold, "")
	} else {
		leg.status = LegConnected
		p.publishLocked(legID, LegConnected, "")
	}
	return nil
}

func (p *SimProvider) Merge(ctx context.Context, roomA, roomB string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.hasActiveLegLocked(roomA) || !p.hasActiveLegLocked(roomB) {
		return fmt.Errorf("%w: a room has no active leg", ErrMergeFailure)
	}
	for id, leg := range p.legs {
		if leg.info.RoomName != roomA && leg.info.RoomName != roomB {
			continue
		}
		if leg.status.Terminal() {
			continue
		}
		leg.info.RoomName = roomA
		leg.status = LegMerged
		p.publishLocked(id, LegMerged, "")
	}
	delete(p.rooms, roomB)
	return nil
}

func (p *SimProvider) Hangup(ctx context.Context, legID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	leg, ok := p.legs[legID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLegGone, legID)
	}
	if !leg.status.Terminal() {
		leg.status = LegEnded
		p.publishLocked(legID, LegEnded, "hangup")
	}
	return nil
}

func (p *SimProvider) LegEvents(ctx context.Context, legID string) (<-chan LegEvent, error) {
	return p.hub.Subscribe(ctx, legID), nil
}

// FailLeg forces a leg into failed; tests use it to simulate provider-side
// drops and busy signals.
func (p *SimProvider) FailLeg(legID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	leg, ok := p.legs[legID]
	if !ok || leg.status.Terminal() {
		return
	}
	leg.status = LegFailed
	p.publishLocked(legID, LegFailed, reason)
}

// DisconnectLeg simulates the remote party hanging up.
func (p *SimProvider) DisconnectLeg(legID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	leg, ok := p.legs[legID]
	if !ok || leg.status.Terminal() {
		return
	}
	leg.status = LegEnded
	p.publishLocked(legID, LegEnded, "remote hangup")
}

func (p *SimProvider) hasActiveLegLocked(roomName string) bool {
	for _, leg := range p.legs {
		if leg.info.RoomName == roomName && !leg.status.Terminal() {
			return true
		}
	}
	return false
}

func (p *SimProvider) publishLocked(legID string, status LegStatus, reason string) {
	p.hub.Publish(LegEvent{LegID: legID, Status: status, Reason: reason, At: time.Now().UTC()})
}
