// Package retry implements the bounded "retry, recover, then escalate" policy used by the auth flow, the device
// controller and the playback commander.
//
// A [Policy] holds an ordered list of [Rule] values. When an operation fails, the first rule whose Match accepts
// the error decides what happens next: run its Before hook (a refresh, a device re-resolve), wait its backoff,
// and call the operation again. Each rule counts its own attempts, so "refresh once" and "retry the network three
// times" compose in one loop. When a rule's budget is spent its Exhausted hook maps the last error to the one the
// caller surfaces. Errors no rule matches are returned immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// Rule describes how one class of failure is retried.
type Rule struct {
	// Name labels the rule in logs.
	Name string

	// Match selects the errors this rule handles.
	Match func(error) bool

	// Attempts is how many retries the rule allows for the whole call.
	Attempts int

	// Backoff is the wait before the first retry; it doubles on each further retry.
	Backoff time.Duration

	// Before runs ahead of each retry. A non-nil return ends the call with that error.
	Before func(ctx context.Context, err error) error

	// Exhausted maps the final error once Attempts are used up. Nil returns the error unchanged.
	Exhausted func(err error) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is an ordered set of rules applied to a single operation.
type Policy struct {
	Rules      []Rule
	MaxBackoff time.Duration
	Sleep      Sleeper
	Logger     *log.Logger
}

// Sleep waits for d, returning ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds, fails with an unmatched error, or a rule gives up.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	used := make([]int, len(p.Rules))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
		}

		i := p.match(err)
		if i < 0 {
			return err
		}

		rule := p.Rules[i]
		if used[i] >= rule.Attempts {
			p.debug("retry exhausted", "rule", rule.Name, "attempts", used[i], "error", err)
			if rule.Exhausted != nil {
				return rule.Exhausted(err)
			}
			return err
		}
		used[i]++

		p.debug("retrying", "rule", rule.Name, "attempt", used[i], "error", err)

		if rule.Before != nil {
			if berr := rule.Before(ctx, err); berr != nil {
				return berr
			}
		}

		if err := p.sleep(ctx, p.backoff(rule, used[i])); err != nil {
			return err
		}
	}
}

// DoValue is [Policy.Do] for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (p Policy) match(err error) int {
	for i, r := range p.Rules {
		if r.Match != nil && r.Match(err) {
			return i
		}
	}
	return -1
}

func (p Policy) backoff(r Rule, attempt int) time.Duration {
	if r.Backoff <= 0 {
		return 0
	}

	d := r.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (p Policy) debug(msg string, kv ...any) {
	if p.Logger != nil {
		p.Logger.Debug(msg, kv...)
	}
}

// Is returns a matcher for errors wrapping any of targets.
func Is(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
}

// Wrap returns an Exhausted hook that wraps the final error in target, so callers can test for either.
func Wrap(target error) func(error) error {
	return func(err error) error {
		if errors.Is(err, target) {
			return err
		}
		return fmt.Errorf("%w: %w", target, err)
	}
}
