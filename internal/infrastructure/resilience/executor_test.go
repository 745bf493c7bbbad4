package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docdesk/internal/core/domain"
)

var errFlaky = errors.New("model loading")

func judgeFlaky(err error) Verdict {
	if errors.Is(err, errFlaky) {
		return Transient
	}
	return Rejected
}

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "ollama.analyze.summary", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	}, Classify(judgeFlaky))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestExecuteStopsOnRejectedCall(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	errBadPrompt := errors.New("bad prompt")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errBadPrompt
	}, Classify(judgeFlaky))
	if !errors.Is(err, errBadPrompt) {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errFlaky
	}, Classify(judgeFlaky))
	if !errors.Is(err, errFlaky) || attempts != 3 {
		t.Fatalf("Execute() = %v after %d attempts", err, attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	var states []string
	exec := NewExecutor(Config{
		RetryMaxAttempts:   1,
		BreakerEnabled:     true,
		BreakerMinRequests: 2,
		BreakerOpenTimeout: time.Minute,
		OnStateChange: func(_, state string) {
			states = append(states, state)
		},
	})

	errDown := errors.New("engine down")
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "gemini.analyze.summary", func(context.Context) error {
			return errDown
		}, nil)
		if !errors.Is(err, errDown) {
			t.Fatalf("iteration %d: Execute() error = %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "gemini.analyze.summary", func(context.Context) error {
		t.Fatalf("open circuit must not call the operation")
		return nil
	}, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) || !IsCircuitOpen(err) {
		t.Fatalf("Execute() error = %v, want open circuit", err)
	}
	if len(states) != 1 || states[0] != "open" {
		t.Fatalf("state changes = %v", states)
	}

	// Breakers are per operation.
	if err := exec.Execute(context.Background(), "gemini.analyze.keywords", func(context.Context) error { return nil }, nil); err != nil {
		t.Fatalf("other operation error = %v", err)
	}
}

func TestRejectedCallsDoNotTripBreaker(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:   1,
		BreakerEnabled:     true,
		BreakerMinRequests: 2,
	})

	calls := 0
	for i := 0; i < 5; i++ {
		_ = exec.Execute(context.Background(), "op", func(context.Context) error {
			calls++
			return errors.New("blocked content")
		}, Classify(func(error) Verdict { return Rejected }))
	}
	if calls != 5 {
		t.Fatalf("calls = %d, rejected calls must not open the circuit", calls)
	}
}

func TestExecuteValueReturnsResult(t *testing.T) {
	exec := NewExecutor(fastConfig())

	attempts := 0
	got, err := ExecuteValue(context.Background(), exec, "analysis.summary", func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", domain.WrapError(domain.ErrTemporary, "call", errors.New("503"))
		}
		return "ok", nil
	}, TemporaryClassifier)
	if err != nil || got != "ok" {
		t.Fatalf("ExecuteValue() = %q, %v", got, err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}

	got, err = ExecuteValue(context.Background(), nil, "direct", func(context.Context) (string, error) {
		return "plain", nil
	}, nil)
	if err != nil || got != "plain" {
		t.Fatalf("ExecuteValue() without executor = %q, %v", got, err)
	}
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewExecutor(fastConfig()).Execute(ctx, "op", func(context.Context) error {
		t.Fatalf("cancelled call must not run")
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestClassify(t *testing.T) {
	classify := Classify(judgeFlaky)

	if c := classify(errFlaky); !c.Retryable || !c.RecordFailure {
		t.Fatalf("transient = %+v", c)
	}
	if c := classify(errors.New("bad request")); c.Retryable || c.RecordFailure {
		t.Fatalf("rejected = %+v", c)
	}
	if c := classify(context.DeadlineExceeded); c.Retryable || c.RecordFailure {
		t.Fatalf("deadline = %+v", c)
	}
	if c := classify(gobreaker.ErrOpenState); !c.Retryable {
		t.Fatalf("open circuit = %+v", c)
	}
	if c := Classify(nil)(errors.New("x")); c.Retryable || !c.RecordFailure {
		t.Fatalf("nil judge = %+v", c)
	}
}

func TestMarkTemporary(t *testing.T) {
	classify := Classify(judgeFlaky)

	if err := MarkTemporary("ollama generate", errFlaky, classify); !domain.IsKind(err, domain.ErrTemporary) || !errors.Is(err, errFlaky) {
		t.Fatalf("MarkTemporary(transient) = %v", err)
	}
	if err := MarkTemporary("ollama generate", errors.New("bad"), classify); domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("MarkTemporary(rejected) = %v", err)
	}
	if MarkTemporary("op", nil, classify) != nil {
		t.Fatalf("MarkTemporary(nil) must stay nil")
	}
	if c := TemporaryClassifier(domain.WrapError(domain.ErrTemporary, "op", errors.New("x"))); !c.Retryable {
		t.Fatalf("temporary errors must be retryable")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{RetryInitialBackoff: 100 * time.Millisecond, RetryMaxBackoff: 300 * time.Millisecond}.normalize()

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
	if cfg.RetryMaxAttempts != 3 || cfg.Logger == nil {
		t.Fatalf("normalize() left zero values: %+v", cfg)
	}
}
