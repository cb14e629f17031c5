package rooms

import (
	"sync"

	"callbridge/internal/session"
)

// Leg is the controller-owned handle to one active call connection. The
// escalation layer holds non-owning references and may only query or request
// transitions through the Controller; it never tears the leg down directly.
type Leg struct {
	mu   sync.Mutex
	info session.LegInfo
}

func newLeg(info session.LegInfo) *Leg {
	return &Leg{info: info}
}

func (l *Leg) ID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.LegID
}

func (l *Leg) RoomName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.RoomName
}

// Address is the remote party's E.164 number.
func (l *Leg) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.Address
}

func (l *Leg) Status() session.LegStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.Status
}

func (l *Leg) setStatus(s session.LegStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.Status = s
}

func (l *Leg) setRoom(roomName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.info.RoomName = roomName
}

// Active reports whether the leg still has a live media path.
func (l *Leg) Active() bool {
	return !l.Status().Terminal()
}
