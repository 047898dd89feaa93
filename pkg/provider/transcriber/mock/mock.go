// Package mock provides an in-memory [transcriber.Provider] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/mwinther/skald/pkg/provider/transcriber"
)

// Compile-time interface assertion.
var _ transcriber.Provider = (*Provider)(nil)

// Provider is a mock [transcriber.Provider]. Set the Result/Err fields (or a
// Func for per-call behaviour) before use; inspect Calls afterwards.
type Provider struct {
	mu sync.Mutex

	// ModelName is returned by Model. Defaults to "mock".
	ModelName string

	// Result and Err are returned by Transcribe when Func is nil.
	Result *transcriber.Result
	Err    error

	// Func, when set, handles each Transcribe call instead of Result/Err.
	Func func(ctx context.Context, req transcriber.Request) (*transcriber.Result, error)

	// Calls records every Transcribe request in order.
	Calls []transcriber.Request
}

// Transcribe implements [transcriber.Provider].
func (p *Provider) Transcribe(ctx context.Context, req transcriber.Request) (*transcriber.Result, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.Func
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// Model implements [transcriber.Provider].
func (p *Provider) Model() string {
	if p.ModelName == "" {
		return "mock"
	}
	return p.ModelName
}

// CallCount returns how many Transcribe calls were made.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
