package scrobbler

import (
	"context"
	"errors"
	"fmt"
	"time"

	retry "github.com/avast/retry-go/v4"

	"anibridge/services/anilist"
)

// entrySaver is the single write operation the applier needs from AniList.
type entrySaver interface {
	SaveEntry(ctx context.Context, token string, in anilist.SaveEntryInput) (*anilist.Entry, error)
}

// RetryPolicy controls how the applier survives transient upstream failures.
// Kept as a plain value so tests can inject fast schedules and fault
// predicates.
type RetryPolicy struct {
	// Attempts is the total number of tries, not the number of retries.
	Attempts uint
	// Delay is the backoff before the first retry; it doubles per retry.
	Delay time.Duration
	// Retryable reports whether an error class is worth another attempt.
	Retryable func(error) bool
}

// DefaultRetryPolicy matches AniList's rate-limit cool-down: 3 attempts with
// 30s then 60s between them. Only the transient upstream class is retried;
// auth and validation failures fail immediately.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    30 * time.Second,
		Retryable: func(err error) bool {
			return errors.Is(err, anilist.ErrUpstream)
		},
	}
}

// Applier executes reconciliation decisions against AniList. Each non-no-op
// decision becomes exactly one upstream write.
type Applier struct {
	client entrySaver
	policy RetryPolicy
}

func NewApplier(client entrySaver, policy RetryPolicy) *Applier {
	return &Applier{client: client, policy: policy}
}

// Apply translates a decision into its SaveMediaListEntry call and runs it
// under the retry policy. No-op decisions never reach this component.
func (a *Applier) Apply(ctx context.Context, token string, d Decision) (*anilist.Entry, error) {
	var in anilist.SaveEntryInput
	switch d.Kind {
	case DecisionAdvance, DecisionTransition:
		in = anilist.SaveEntryInput{EntryID: d.EntryID, Progress: d.Progress, Status: d.Status}
	case DecisionCreate:
		in = anilist.SaveEntryInput{MediaID: d.MediaID, Progress: d.Progress, Status: d.Status}
	case DecisionReset:
		in = anilist.SaveEntryInput{EntryID: d.EntryID, Progress: 0}
	default:
		return nil, fmt.Errorf("decision kind %d is not applicable", d.Kind)
	}

	return retry.DoWithData(
		func() (*anilist.Entry, error) {
			return a.client.SaveEntry(ctx, token, in)
		},
		retry.Context(ctx),
		retry.Attempts(a.policy.Attempts),
		retry.Delay(a.policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(a.policy.Retryable),
		retry.LastErrorOnly(true),
	)
}
