package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"callbridge/internal/config"
	"callbridge/internal/rooms"
	"callbridge/internal/session"
)

// ErrUnknownRoom means no live call context matches the given room.
var ErrUnknownRoom = errors.New("no active call for room")

// Service owns the live call contexts and is the entrypoint for placing
// outbound calls, with or without the escalation loop.
type Service struct {
	ctrl     *rooms.Controller
	notifier DriverNotifier
	cfg      config.EscalationConfig
	log      *slog.Logger

	mu       sync.Mutex
	contexts map[string]*Context
}

func NewService(ctrl *rooms.Controller, notifier DriverNotifier, cfg config.EscalationConfig, log *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		ctrl:     ctrl,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		contexts: make(map[string]*Context),
	}
}

// StartCallRequest describes one outbound call to place.
type StartCallRequest struct {
	// CallID identifies the call; calls with the same CallID share a room.
	// Empty means a fresh identifier is generated.
	CallID      string
	Destination string
	Params      session.CallParams
}

// StartCallResult is the structured record returned to the caller.
type StartCallResult struct {
	CallID            string `json:"call_id"`
	RoomName          string `json:"room_name"`
	LegID             string `json:"leg_id"`
	EscalationEnabled bool   `json:"escalation_enabled"`
}

// StartCall creates a room, dials the customer, and leaves a call context
// running to serve driver events for the lifetime of the call. Escalation
// is enabled whenever a supervisor destination is configured.
func (s *Service) StartCall(ctx context.Context, req StartCallRequest) (StartCallResult, *Context, error) {
	callID := req.CallID
	if callID == "" {
		callID = uuid.NewString()
	}

	room, err := s.ctrl.CreateRoom(ctx, callID, "")
	if err != nil {
		return StartCallResult{}, nil, fmt.Errorf("create room: %w", err)
	}
	s.notifier.LegReady(ctx, room.Name)

	leg, err := s.ctrl.PlaceLeg(ctx, room.Name, req.Destination, "customer", req.Params)
	if err != nil {
		s.ctrl.EndRoom(ctx, room.Name, callID)
		return StartCallResult{}, nil, err
	}
	if err := s.ctrl.AwaitConnected(ctx, leg, s.cfg.DialTimeout); err != nil {
		s.ctrl.EndLeg(ctx, leg)
		s.ctrl.EndRoom(ctx, room.Name, callID)
		return StartCallResult{}, nil, err
	}
	s.notifier.CustomerConnected(ctx, room.Name)

	cc := newContext(callID, room.Name, callID, leg, s.ctrl, s.notifier, s.cfg, s.log)
	s.mu.Lock()
	s.contexts[room.Name] = cc
	s.mu.Unlock()

	go func() {
		// The loop outlives the HTTP request that started the call.
		cc.run(context.WithoutCancel(ctx))
		s.mu.Lock()
		delete(s.contexts, room.Name)
		s.mu.Unlock()
	}()

	return StartCallResult{
		CallID:            callID,
		RoomName:          room.Name,
		LegID:             leg.ID(),
		EscalationEnabled: s.cfg.SupervisorNumber != "",
	}, cc, nil
}

// Outcome is what a completed call leaves behind.
type Outcome struct {
	CallID     string
	RoomName   string
	LegID      string
	Transcript string
	FinalState State

	// TimedOut marks a call force-ended at its max duration.
	TimedOut bool
}

// RunBasicCall places a single customer leg, waits for the driver to finish
// the conversation, and returns the transcript. maxWait bounds the whole call.
func (s *Service) RunBasicCall(ctx context.Context, destination string, params session.CallParams, maxWait time.Duration) (string, error) {
	out, err := s.RunTrackedCall(ctx, destination, params, maxWait)
	return out.Transcript, err
}

// RunTrackedCall is RunBasicCall plus the terminal state, for callers that
// record what the call ended as. Escalation events delivered to the room
// still work; this caller only consumes the final outcome.
func (s *Service) RunTrackedCall(ctx context.Context, destination string, params session.CallParams, maxWait time.Duration) (Outcome, error) {
	res, cc, err := s.StartCall(ctx, StartCallRequest{Destination: destination, Params: params})
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{CallID: res.CallID, RoomName: res.RoomName, LegID: res.LegID}
	finish := func() Outcome {
		out.Transcript = cc.Transcript()
		out.FinalState = cc.State()
		return out
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-cc.Done():
		return finish(), nil
	case <-timer.C:
		s.log.Warn("call exceeded max duration, ending", "room", res.RoomName)
		s.End(context.WithoutCancel(ctx), res.RoomName)
		<-cc.Done()
		out.TimedOut = true
		return finish(), nil
	case <-ctx.Done():
		s.End(context.WithoutCancel(ctx), res.RoomName)
		<-cc.Done()
		return finish(), ctx.Err()
	}
}

// Deliver routes a driver event to the call context owning roomName.
func (s *Service) Deliver(roomName string, ev DriverEvent) error {
	cc := s.Lookup(roomName)
	if cc == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, roomName)
	}
	return cc.Deliver(ev)
}

// Lookup returns the live context for a room, or nil.
func (s *Service) Lookup(roomName string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contexts[roomName]
}

// End force-ends the call in roomName. Used on operator request and when a
// bounded call overruns.
func (s *Service) End(ctx context.Context, roomName string) {
	cc := s.Lookup(roomName)
	if cc == nil {
		return
	}
	cc.teardown(ctx, "ended by operator")
}

// Active returns the number of live call contexts.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}
