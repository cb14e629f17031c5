package messaging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSendFailure means the downstream provider rejected the message.
	ErrSendFailure = errors.New("message send failed")

	// ErrTimeout means the send did not finish within its deadline.
	ErrTimeout = errors.New("message send timed out")
)

// Message is one outbound text or email.
type Message struct {
	To      string
	CC      []string
	Subject string
	Body    string
	HTML    bool
}

// Sender delivers one message over a single channel (SMS or email).
// Implementations apply their own bounded timeout on top of ctx.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// sendWithRetry retries transient timeouts with a short pause. Provider
// rejections are not retried; a rejected message stays rejected.
func sendWithRetry(ctx context.Context, s Sender, msg Message, attempts int, pause time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = s.Send(ctx, msg)
		if err == nil || !errors.Is(err, ErrTimeout) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(pause):
		}
	}
	return err
}

// Retrying wraps a Sender with bounded retry on timeout.
type Retrying struct {
	Sender
	Attempts int
	Pause    time.Duration
}

func (r Retrying) Send(ctx context.Context, msg Message) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 2
	}
	pause := r.Pause
	if pause <= 0 {
		pause = 500 * time.Millisecond
	}
	return sendWithRetry(ctx, r.Sender, msg, attempts, pause)
}
