package session

import (
	"context"
	"errors"
	"time"
)

// Provider defines the provider-agnostic session-provider interface used by
// the orchestration core.
//
// Rules:
// - No provider SDK or wire calls outside session adapters.
// - Destinations are E.164 and validated before any provider call.
// - Keep request/response types provider-agnostic; store provider raw
//   payloads in metadata if needed.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	CreateRoom(ctx context.Context, req CreateRoomRequest) (Room, error)
	DeleteRoom(ctx context.Context, roomName string) error

	Dial(ctx context.Context, req DialRequest) (LegInfo, error)
	LegStatus(ctx context.Context, legID string) (LegStatus, error)

	// SetHold switches the leg's media path to (or from) hold audio.
	SetHold(ctx context.Context, legID string, hold bool) error

	// Merge moves roomB's legs into roomA so all legs share one media path.
	Merge(ctx context.Context, roomA, roomB string) error

	Hangup(ctx context.Context, legID string) error

	// LegEvents returns a channel delivering status transitions for one leg.
	// The channel closes when the leg reaches a terminal status or ctx ends.
	LegEvents(ctx context.Context, legID string) (<-chan LegEvent, error)
}

// Sentinel errors forming the provider-boundary taxonomy. Callers match with
// errors.Is; adapters wrap transport detail around these.
var (
	ErrInvalidDestination  = errors.New("session: invalid destination")
	ErrProviderUnavailable = errors.New("session: provider unavailable")
	ErrDialFailure         = errors.New("session: dial failure")
	ErrMergeFailure        = errors.New("session: merge failure")
	ErrLegGone             = errors.New("session: leg gone")
)

type LegStatus string

const (
	LegDialing   LegStatus = "dialing"
	LegConnected LegStatus = "connected"
	LegOnHold    LegStatus = "on_hold"
	LegMerged    LegStatus = "merged"
	LegEnded     LegStatus = "ended"
	LegFailed    LegStatus = "failed"
)

// Terminal reports whether a leg can transition no further.
func (s LegStatus) Terminal() bool {
	return s == LegEnded || s == LegFailed
}

type CreateRoomRequest struct {
	Name string `json:"name"`

	// Metadata travels to the conversational driver that joins the room.
	Metadata string `json:"metadata,omitempty"`
}

type Room struct {
	Name      string    `json:"name"`
	SID       string    `json:"sid"`
	CreatedAt time.Time `json:"created_at"`
}

// CallParams carries the per-call agent parameters with the dial request.
// Passing them here, instead of a shared mutable config file, keeps each
// call's parameters isolated from concurrent calls.
type CallParams struct {
	Instruction string `json:"instruction,omitempty"`
	CallerName  string `json:"caller_name,omitempty"`
	Language    string `json:"language,omitempty"`
	Voice       string `json:"voice,omitempty"`
}

type DialRequest struct {
	RoomName    string     `json:"room_name"`
	TrunkID     string     `json:"trunk_id"`
	Destination string     `json:"destination"`
	Identity    string     `json:"identity"`
	DisplayName string     `json:"display_name,omitempty"`
	Params      CallParams `json:"params"`
}

type LegInfo struct {
	LegID    string    `json:"leg_id"`
	RoomName string    `json:"room_name"`
	Address  string    `json:"address"`
	Status   LegStatus `json:"status"`
}

// LegEvent is one provider-reported status transition for a leg.
type LegEvent struct {
	LegID  string    `json:"leg_id"`
	Status LegStatus `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}
