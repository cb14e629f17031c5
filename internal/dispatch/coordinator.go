package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"callbridge/internal/config"
	"callbridge/internal/escalation"
	"callbridge/internal/messaging"
	"callbridge/internal/records"
	"callbridge/internal/session"
	"callbridge/pkg/utils"
)

// callCapKey is shared across processes so the concurrent-call cap holds
// fleet-wide, not per instance.
const callCapKey = "callbridge:calls:cap"

// Caller runs one outbound call to completion.
type Caller interface {
	RunTrackedCall(ctx context.Context, destination string, params session.CallParams, maxWait time.Duration) (escalation.Outcome, error)
}

// Coordinator fans a bulk job out over a bounded worker pool. Each contact
// runs its channel sequence independently; one contact's failure never
// touches another contact's result.
type Coordinator struct {
	caller Caller
	sms    messaging.Sender
	email  messaging.Sender
	rdb    *redis.Client
	repo   records.Repository
	cfg    config.DispatchConfig
	log    *slog.Logger

	// CallMaxWait bounds one contact's call step end to end.
	CallMaxWait time.Duration

	// capTTL keeps a crashed process from pinning cap slots forever.
	capTTL time.Duration

	now func() time.Time
}

func NewCoordinator(caller Caller, sms, email messaging.Sender, rdb *redis.Client, repo records.Repository, cfg config.DispatchConfig, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		caller:      caller,
		sms:         sms,
		email:       email,
		rdb:         rdb,
		repo:        repo,
		cfg:         cfg,
		log:         log,
		CallMaxWait: 10 * time.Minute,
		capTTL:      15 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs the job and returns one result per contact, in input
// order. Cancelling ctx stops new channel operations; operations already
// under way run to a terminal status on their own bounded deadlines.
func (c *Coordinator) Dispatch(ctx context.Context, job Job) ([]records.ContactResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	results := make([]records.ContactResult, len(job.Contacts))
	for i, contact := range job.Contacts {
		results[i] = records.NewContactResult(contact.Name, contact.Email, contact.Phone, c.now())
	}

	workers := c.cfg.WorkerLimit
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range job.Contacts {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			c.runContact(ctx, job, job.Contacts[i], &results[i])
		}(i)
	}
	wg.Wait()

	return results, nil
}

// runContact executes the fixed call, sms, email sequence for one contact.
// The result is owned by this goroutine until the sequence ends.
func (c *Coordinator) runContact(ctx context.Context, job Job, contact Contact, res *records.ContactResult) {
	defer func() { res.EndedAt = c.now() }()

	for _, ch := range channelOrder {
		if !job.Wants(ch) {
			continue
		}
		if ctx.Err() != nil {
			// Job cancelled; channels not yet started stay skipped.
			c.log.Info("bulk job cancelled, skipping remaining channels", "contact", contact.Name, "channel", ch)
			return
		}
		switch ch {
		case ChannelCall:
			c.runCall(ctx, job, contact, res)
		case ChannelSMS:
			c.runSMS(ctx, job, contact, res)
		case ChannelEmail:
			c.runEmail(ctx, job, contact, res)
		}
	}
}

func (c *Coordinator) runCall(ctx context.Context, job Job, contact Contact, res *records.ContactResult) {
	if contact.Phone == "" {
		return // stays skipped
	}

	// The step detaches from job cancellation so an in-flight call reaches
	// a terminal status instead of being abandoned mid-dial.
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.CallMaxWait+time.Minute)
	defer cancel()

	release, err := c.acquireCallSlot(ctx, stepCtx)
	if err != nil {
		c.fail(res, string(ChannelCall), err)
		return
	}
	defer release()

	params := job.CallParams
	if job.Escalation != nil && job.Escalation.Reason != "" {
		params.Instruction = params.Instruction + "\nEscalate to a supervisor when warranted. Context: " + job.Escalation.Reason
	}

	started := c.now()
	out, err := c.caller.RunTrackedCall(stepCtx, contact.Phone, params, c.CallMaxWait)
	if err != nil {
		c.fail(res, string(ChannelCall), err)
		c.saveCallRecord(stepCtx, contact, out, started, records.StatusFailed)
		return
	}

	status := records.StatusSuccess
	if out.TimedOut {
		status = records.StatusFailed
		c.fail(res, string(ChannelCall), fmt.Errorf("%w: call ended at max duration", messaging.ErrTimeout))
	} else {
		res.CallStatus = records.StatusSuccess
	}
	res.Transcript = out.Transcript
	if job.Escalation != nil {
		res.EscalationState = string(out.FinalState)
	}
	c.saveCallRecord(stepCtx, contact, out, started, status)
}

// saveCallRecord retains the call step's transcript and timestamps.
// Best effort: a store outage never fails the contact's sequence.
func (c *Coordinator) saveCallRecord(ctx context.Context, contact Contact, out escalation.Outcome, started time.Time, status records.Status) {
	if c.repo == nil {
		return
	}
	rec := records.CallRecord{
		CallID:      out.CallID,
		RoomName:    out.RoomName,
		LegID:       out.LegID,
		Destination: contact.Phone,
		FinalState:  string(out.FinalState),
		Transcript:  out.Transcript,
		Status:      status,
		CreatedAt:   started,
		EndedAt:     c.now(),
	}
	if err := c.repo.SaveCallRecord(context.WithoutCancel(ctx), rec); err != nil {
		c.log.Error("saving bulk call record failed", "destination", contact.Phone, "error", err)
	}
}

func (c *Coordinator) runSMS(ctx context.Context, job Job, contact Contact, res *records.ContactResult) {
	if contact.Phone == "" {
		return
	}
	if c.sms == nil {
		c.fail(res, string(ChannelSMS), fmt.Errorf("%w: sms transport not configured", messaging.ErrSendFailure))
		return
	}
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	err := c.sms.Send(stepCtx, messaging.Message{To: contact.Phone, Body: job.SMSBody})
	if err != nil {
		c.fail(res, string(ChannelSMS), err)
		return
	}
	res.SMSStatus = records.StatusSuccess
}

func (c *Coordinator) runEmail(ctx context.Context, job Job, contact Contact, res *records.ContactResult) {
	if contact.Email == "" {
		return
	}
	if c.email == nil {
		c.fail(res, string(ChannelEmail), fmt.Errorf("%w: email transport not configured", messaging.ErrSendFailure))
		return
	}
	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	err := c.email.Send(stepCtx, messaging.Message{
		To:      contact.Email,
		CC:      job.EmailCC,
		Subject: job.EmailSubject,
		Body:    job.EmailBody,
		HTML:    job.EmailHTML,
	})
	if err != nil {
		c.fail(res, string(ChannelEmail), err)
		return
	}
	res.EmailStatus = records.StatusSuccess
}

// acquireCallSlot waits for a slot under the fleet-wide concurrent-call
// cap. Without Redis the per-job worker limit is the only bound.
func (c *Coordinator) acquireCallSlot(jobCtx, stepCtx context.Context) (func(), error) {
	if c.rdb == nil || c.cfg.MaxConcurrentCalls <= 0 {
		return func() {}, nil
	}
	for {
		ok, err := utils.AcquireConcurrencyCap(stepCtx, c.rdb, callCapKey, c.cfg.MaxConcurrentCalls, c.capTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: call cap: %v", session.ErrProviderUnavailable, err)
		}
		if ok {
			return func() {
				if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(stepCtx), c.rdb, callCapKey); err != nil {
					c.log.Warn("call cap release failed", "error", err)
				}
			}, nil
		}
		select {
		case <-jobCtx.Done():
			return nil, jobCtx.Err()
		case <-stepCtx.Done():
			return nil, stepCtx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (c *Coordinator) fail(res *records.ContactResult, channel string, err error) {
	switch channel {
	case string(ChannelCall):
		res.CallStatus = records.StatusFailed
	case string(ChannelSMS):
		res.SMSStatus = records.StatusFailed
	case string(ChannelEmail):
		res.EmailStatus = records.StatusFailed
	}
	if res.Errors == nil {
		res.Errors = make(map[string]string)
	}
	res.Errors[channel] = records.FailureCodeFor(err) + ": " + err.Error()
	c.log.Warn("channel step failed", "channel", channel, "contact", res.Name, "error", err)
}
