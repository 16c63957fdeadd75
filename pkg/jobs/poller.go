// Package jobs awaits long-running remote jobs: bulk ingest jobs, test runs
// and deployment requests. A job is polled at a fixed interval until it
// reaches a terminal status or the attempt ceiling is hit.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/txn2/mcp-salesforce/pkg/sferr"
)

// Polling limits.
const (
	PollInterval    = 5 * time.Second
	MaxPollAttempts = 60
)

// State is the lifecycle position of a polled job.
type State string

// Job states.
const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Handle identifies a submitted remote job.
type Handle struct {
	ID          string
	SubmittedAt time.Time
}

// Status is one observation of a remote job.
type Status struct {
	// State is the remote status text, e.g. "Queued", "JobComplete".
	// Empty means the job is not visible yet.
	State     string
	Processed int
	Total     int
	Message   string
}

// StatusFunc fetches the current status of a job.
type StatusFunc func(ctx context.Context) (*Status, error)

// Outcome is the result of awaiting a job.
type Outcome struct {
	JobID       string        `json:"job_id"`
	State       State         `json:"state"`
	RemoteState string        `json:"remote_state,omitempty"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed"`
	Message     string        `json:"message,omitempty"`
}

// Succeeded reports whether the job completed.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.State == StateCompleted
}

// Classify maps a remote status onto the job lifecycle. Aborted jobs are
// failures; anything unrecognised is still in flight.
func Classify(remote string) State {
	switch remote {
	case "Completed", "JobComplete":
		return StateCompleted
	case "Failed", "Aborted", "Error", "Invalidated":
		return StateFailed
	default:
		return StatePolling
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poller awaits remote jobs. The zero value uses PollInterval,
// MaxPollAttempts and ContextSleep.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Sleep       Sleeper
	Now         func() time.Time
}

// NewPoller returns a Poller with the package defaults.
func NewPoller() *Poller {
	return &Poller{Interval: PollInterval, MaxAttempts: MaxPollAttempts, Sleep: ContextSleep, Now: time.Now}
}

func (p *Poller) settings() (time.Duration, int, Sleeper, func() time.Time) {
	interval, attempts, sleep, now := p.Interval, p.MaxAttempts, p.Sleep, p.Now
	if interval <= 0 {
		interval = PollInterval
	}
	if attempts <= 0 {
		attempts = MaxPollAttempts
	}
	if sleep == nil {
		sleep = ContextSleep
	}
	if now == nil {
		now = time.Now
	}
	return interval, attempts, sleep, now
}

// Await polls status until the job is terminal. When the attempt ceiling
// is reached it returns an Outcome in StateTimedOut together with a
// *sferr.TimeoutError. An error from status ends polling immediately.
func (p *Poller) Await(ctx context.Context, h Handle, status StatusFunc) (*Outcome, error) {
	interval, maxAttempts, sleep, now := p.settings()

	started := h.SubmittedAt
	if started.IsZero() {
		started = now()
	}

	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), retry.NewConstant(interval)) //nolint:gosec // maxAttempts is positive
	notifier := GetProgressNotifier(ctx)

	for attempt := 1; ; attempt++ {
		st, err := status(ctx)
		if err != nil {
			return nil, fmt.Errorf("poll job %s: %w", h.ID, err)
		}
		if st == nil {
			st = &Status{}
		}

		state := Classify(st.State)
		if notifier != nil {
			notify(ctx, notifier, h.ID, attempt, maxAttempts, st)
		}
		slog.Debug("polled job", "job_id", h.ID, "attempt", attempt, "remote_state", st.State)

		if state == StateCompleted || state == StateFailed {
			return &Outcome{
				JobID:       h.ID,
				State:       state,
				RemoteState: st.State,
				Attempts:    attempt,
				Elapsed:     now().Sub(started),
				Message:     st.Message,
			}, nil
		}

		delay, stop := backoff.Next()
		if stop {
			elapsed := now().Sub(started)
			slog.Warn("job did not finish", "job_id", h.ID, "attempts", attempt, "remote_state", st.State)
			return &Outcome{
				JobID:       h.ID,
				State:       StateTimedOut,
				RemoteState: st.State,
				Attempts:    attempt,
				Elapsed:     elapsed,
				Message:     st.Message,
			}, &sferr.TimeoutError{JobID: h.ID, Attempts: attempt, Elapsed: elapsed}
		}

		if err := sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("poll job %s: %w", h.ID, err)
		}
	}
}

func notify(ctx context.Context, n ProgressNotifier, jobID string, attempt, maxAttempts int, st *Status) {
	progress, total := float64(attempt), float64(maxAttempts)
	if st.Total > 0 {
		progress, total = float64(st.Processed), float64(st.Total)
	}
	msg := fmt.Sprintf("job %s: %s", jobID, st.State)
	if st.State == "" {
		msg = fmt.Sprintf("job %s: waiting for status", jobID)
	}
	if err := n.Notify(ctx, progress, total, msg); err != nil {
		slog.Debug("progress notification failed", "job_id", jobID, "error", err)
	}
}
