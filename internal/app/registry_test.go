package app

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/mwinther/skald/internal/capture"
	"github.com/mwinther/skald/internal/config"
	"github.com/mwinther/skald/internal/observe"
	"github.com/mwinther/skald/internal/respond"
	"github.com/mwinther/skald/internal/transcribe"
	"github.com/mwinther/skald/pkg/audio"
	audiomock "github.com/mwinther/skald/pkg/audio/mock"
	"github.com/mwinther/skald/pkg/provider/transcriber"
	transmock "github.com/mwinther/skald/pkg/provider/transcriber/mock"
	ttsmock "github.com/mwinther/skald/pkg/provider/tts/mock"
)

// fastCapture keeps the pipeline state machine quick enough for tests.
var fastCapture = capture.Config{
	SilenceTimeout:      20 * time.Millisecond,
	SettleDelay:         20 * time.Millisecond,
	RecentActivityGuard: time.Millisecond,
	TickInterval:        5 * time.Millisecond,
}

// stubGenerator is a deterministic ReplyGenerator for registry tests.
type stubGenerator struct {
	reply string
	calls atomic.Int32
}

func (s *stubGenerator) Reply(context.Context, []respond.Message) (string, error) {
	s.calls.Add(1)
	return s.reply, nil
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestRegistry(t *testing.T, dial Dialer, provider transcriber.Provider, gen respond.ReplyGenerator, synth *ttsmock.Synthesizer) *Registry {
	t.Helper()
	m := newTestMetrics(t)
	return NewRegistry(RegistryConfig{
		Dial:        dial,
		Analyzer:    audio.NewAnalyzer(),
		Capture:     withMetrics(fastCapture, m),
		Gateway:     transcribe.NewGateway(provider, transcribe.Config{}, m),
		Character:   config.CharacterConfig{},
		Generator:   gen,
		Synthesizer: synth,
		Metrics:     m,
	})
}

func withMetrics(cfg capture.Config, m *observe.Metrics) capture.Config {
	cfg.Metrics = m
	return cfg
}

// loudPCM returns n samples of half-scale PCM, loud and long enough to pass
// the analyzer gate.
func loudPCM(samples int) []byte {
	return bytes.Repeat([]byte{0x00, 0x40}, samples)
}

func TestRegistry_JoinLeaveLifecycle(t *testing.T) {
	conn := audiomock.NewConnection()
	var dials atomic.Int32
	dial := func(context.Context, string, string) (audio.Connection, error) {
		dials.Add(1)
		return conn, nil
	}
	r := newTestRegistry(t, dial, &transmock.Provider{}, nil, nil)

	if err := r.Join(context.Background(), "guild-1", "chan-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	sess := r.Session("guild-1")
	if sess == nil || !sess.Live() {
		t.Fatal("session missing or not live after Join")
	}

	if err := r.Join(context.Background(), "guild-1", "chan-2"); err == nil {
		t.Error("expected error joining a guild twice")
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1 (duplicate join must not dial)", got)
	}

	if err := r.Leave("guild-1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if sess.Live() {
		t.Error("session still live after Leave")
	}
	if conn.CallCountDisconnect != 1 {
		t.Errorf("Disconnect calls = %d, want 1", conn.CallCountDisconnect)
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
	if err := r.Leave("guild-1"); err == nil {
		t.Error("expected error leaving a guild with no session")
	}
}

func TestRegistry_ConnectFailureSurfaces(t *testing.T) {
	dialErr := errors.New("voice handshake refused")
	dial := func(context.Context, string, string) (audio.Connection, error) {
		return nil, dialErr
	}
	r := newTestRegistry(t, dial, &transmock.Provider{}, nil, nil)

	err := r.Join(context.Background(), "guild-1", "chan-1")
	if !errors.Is(err, dialErr) {
		t.Fatalf("Join error = %v, want wrapped dial error", err)
	}
	if got := r.Len(); got != 0 {
		t.Errorf("Len() = %d after failed join, want 0", got)
	}
}

func TestRegistry_ConnectTimeout(t *testing.T) {
	dial := func(ctx context.Context, _, _ string) (audio.Connection, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m := newTestMetrics(t)
	r := NewRegistry(RegistryConfig{
		Dial:           dial,
		ConnectTimeout: 20 * time.Millisecond,
		Analyzer:       audio.NewAnalyzer(),
		Gateway:        transcribe.NewGateway(&transmock.Provider{}, transcribe.Config{}, m),
		Metrics:        m,
	})

	start := time.Now()
	err := r.Join(context.Background(), "guild-1", "chan-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Join error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Join took %v; the timeout did not bound the attempt", elapsed)
	}
}

func TestRegistry_SpeechBecomesSpokenReply(t *testing.T) {
	conn := audiomock.NewConnection()
	dial := func(context.Context, string, string) (audio.Connection, error) {
		return conn, nil
	}
	provider := &transmock.Provider{
		ModelName: "stub-transcribe",
		Result:    &transcriber.Result{Text: "can you hear me?"},
	}
	gen := &stubGenerator{reply: "Loud and clear."}
	replyPCM := loudPCM(960)
	synth := &ttsmock.Synthesizer{WAV: audio.EncodeWAV(replyPCM, 48000, 2)}
	r := newTestRegistry(t, dial, provider, gen, synth)

	if err := r.Join(context.Background(), "guild-1", "chan-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer r.Leave("guild-1")

	// 250ms of half-scale audio: loud and long enough for the analyzer.
	conn.SendChunk(audio.Chunk{
		UserID:     "user-1",
		Username:   "alice",
		Data:       loudPCM(24000),
		SampleRate: 48000,
		Channels:   2,
		ReceivedAt: time.Now(),
	})

	select {
	case frame := <-conn.Output:
		if !bytes.Equal(frame.Data, replyPCM) {
			t.Error("played frame does not match synthesized reply audio")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply frame reached the voice connection")
	}

	if provider.CallCount() != 1 {
		t.Errorf("transcriber calls = %d, want 1", provider.CallCount())
	}
	if got := gen.calls.Load(); got != 1 {
		t.Errorf("generator calls = %d, want 1", got)
	}
}

func TestRegistry_TeardownDropsInFlightResult(t *testing.T) {
	conn := audiomock.NewConnection()
	dial := func(context.Context, string, string) (audio.Connection, error) {
		return conn, nil
	}

	started := make(chan struct{})
	release := make(chan struct{})
	provider := &transmock.Provider{
		Func: func(ctx context.Context, _ transcriber.Request) (*transcriber.Result, error) {
			close(started)
			<-release
			return &transcriber.Result{Text: "can you hear me?"}, nil
		},
	}
	gen := &stubGenerator{reply: "Loud and clear."}
	synth := &ttsmock.Synthesizer{WAV: audio.EncodeWAV(loudPCM(960), 48000, 2)}
	r := newTestRegistry(t, dial, provider, gen, synth)

	if err := r.Join(context.Background(), "guild-1", "chan-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	conn.SendChunk(audio.Chunk{
		UserID:     "user-1",
		Username:   "alice",
		Data:       loudPCM(24000),
		SampleRate: 48000,
		Channels:   2,
		ReceivedAt: time.Now(),
	})

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("transcription never started")
	}

	// Tear the session down while the transcription call is in flight, then
	// let it complete. The result must be dropped, not spoken.
	if err := r.Leave("guild-1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	close(release)

	time.Sleep(100 * time.Millisecond)
	select {
	case <-conn.Output:
		t.Error("reply frame played after teardown")
	default:
	}
	if got := gen.calls.Load(); got != 0 {
		t.Errorf("generator calls = %d after teardown, want 0", got)
	}
}
