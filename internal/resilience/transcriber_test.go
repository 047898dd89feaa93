package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mwinther/skald/pkg/provider/transcriber"
	"github.com/mwinther/skald/pkg/provider/transcriber/mock"
)

var testReq = transcriber.Request{WAV: []byte("RIFF....WAVE")}

func TestFallback_PrimarySucceeds(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{ModelName: "primary", Result: &transcriber.Result{Text: "from primary"}}
	fallback := &mock.Provider{ModelName: "fallback", Result: &transcriber.Result{Text: "from fallback"}}
	f := NewFallbackTranscriber(primary, fallback, Config{})

	res, err := f.Transcribe(context.Background(), testReq)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from primary" {
		t.Errorf("text = %q, want from primary", res.Text)
	}
	if fallback.CallCount() != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.CallCount())
	}
}

func TestFallback_PrimaryFailureFallsBack(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{ModelName: "primary", Err: errors.New("boom")}
	fallback := &mock.Provider{ModelName: "fallback", Result: &transcriber.Result{Text: "from fallback"}}
	f := NewFallbackTranscriber(primary, fallback, Config{})

	res, err := f.Transcribe(context.Background(), testReq)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "from fallback" {
		t.Errorf("text = %q, want from fallback", res.Text)
	}
	if primary.CallCount() != 1 || fallback.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), fallback.CallCount())
	}
}

func TestFallback_BothFail(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{ModelName: "primary", Err: errors.New("primary down")}
	fallback := &mock.Provider{ModelName: "fallback", Err: errors.New("fallback down")}
	f := NewFallbackTranscriber(primary, fallback, Config{})

	_, err := f.Transcribe(context.Background(), testReq)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

func TestFallback_CooldownSkipsPrimary(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{ModelName: "primary", Err: errors.New("down")}
	fallback := &mock.Provider{ModelName: "fallback", Result: &transcriber.Result{Text: "ok"}}
	f := NewFallbackTranscriber(primary, fallback, Config{MaxFailures: 2, Cooldown: time.Hour})

	for range 3 {
		if _, err := f.Transcribe(context.Background(), testReq); err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
	}

	// Third call lands inside the cooldown: primary must not be tried again.
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2 (third skipped by cooldown)", primary.CallCount())
	}
	if fallback.CallCount() != 3 {
		t.Errorf("fallback calls = %d, want 3", fallback.CallCount())
	}
}

func TestFallback_ProbeAfterCooldown(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{ModelName: "primary", Err: errors.New("down")}
	fallback := &mock.Provider{ModelName: "fallback", Result: &transcriber.Result{Text: "ok"}}
	f := NewFallbackTranscriber(primary, fallback, Config{MaxFailures: 1, Cooldown: 20 * time.Millisecond})

	if _, err := f.Transcribe(context.Background(), testReq); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	// Cooldown elapsed: one probe call reaches the (recovered) primary.
	primary.Err = nil
	primary.Result = &transcriber.Result{Text: "recovered"}
	res, err := f.Transcribe(context.Background(), testReq)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "recovered" {
		t.Errorf("text = %q, want recovered", res.Text)
	}
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.CallCount())
	}
}

func TestFallback_ProbeFailureReopensImmediately(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{ModelName: "primary", Err: errors.New("still down")}
	fallback := &mock.Provider{ModelName: "fallback", Result: &transcriber.Result{Text: "ok"}}
	f := NewFallbackTranscriber(primary, fallback, Config{MaxFailures: 3, Cooldown: 20 * time.Millisecond})

	for range 3 {
		if _, err := f.Transcribe(context.Background(), testReq); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(30 * time.Millisecond)

	// One probe fails → cooldown restarts without needing MaxFailures again.
	if _, err := f.Transcribe(context.Background(), testReq); err != nil {
		t.Fatal(err)
	}
	probeCalls := primary.CallCount()
	if _, err := f.Transcribe(context.Background(), testReq); err != nil {
		t.Fatal(err)
	}
	if primary.CallCount() != probeCalls {
		t.Errorf("primary called again inside re-opened cooldown (calls %d → %d)", probeCalls, primary.CallCount())
	}
}

func TestFallback_SuccessResetsFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	primary := &mock.Provider{ModelName: "primary"}
	primary.Func = func(_ context.Context, _ transcriber.Request) (*transcriber.Result, error) {
		calls++
		if calls%2 == 1 {
			return nil, errors.New("flaky")
		}
		return &transcriber.Result{Text: "ok"}, nil
	}
	fallback := &mock.Provider{ModelName: "fallback", Result: &transcriber.Result{Text: "fb"}}
	f := NewFallbackTranscriber(primary, fallback, Config{MaxFailures: 2, Cooldown: time.Hour})

	// Alternating failure/success never reaches the threshold: the primary
	// keeps being tried on every request.
	for range 6 {
		if _, err := f.Transcribe(context.Background(), testReq); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 6 {
		t.Errorf("primary calls = %d, want 6", calls)
	}
}
