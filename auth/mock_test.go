package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockSecurityProvider is a mock implementation of SecurityProvider.
type MockSecurityProvider struct {
	AcquireFunc func(ctx context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error)

	mu       sync.Mutex
	acquired []Scheme
}

// Acquire implements SecurityProvider.
func (m *MockSecurityProvider) Acquire(ctx context.Context, scheme Scheme, creds *Credentials) (SecurityContext, error) {
	m.mu.Lock()
	m.acquired = append(m.acquired, scheme)
	m.mu.Unlock()
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, scheme, creds)
	}
	return &MockSecurityContext{}, nil
}

// Acquired returns the schemes Acquire was called with, in order.
func (m *MockSecurityProvider) Acquired() []Scheme {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Scheme(nil), m.acquired...)
}

// MockSecurityContext is a mock implementation of SecurityContext.
type MockSecurityContext struct {
	StepFunc  func(ctx context.Context, target string, input []byte) ([]byte, bool, error)
	CloseFunc func() error

	steps  atomic.Int32
	closes atomic.Int32
}

// Step implements SecurityContext.
func (m *MockSecurityContext) Step(ctx context.Context, target string, input []byte) ([]byte, bool, error) {
	m.steps.Add(1)
	if m.StepFunc != nil {
		return m.StepFunc(ctx, target, input)
	}
	return []byte("token"), false, nil
}

// Close implements SecurityContext.
func (m *MockSecurityContext) Close() error {
	m.closes.Add(1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// legProvider returns a provider whose contexts produce "<scheme>-<n>"
// tokens and need legs steps to finish. Every created context is recorded.
type legProvider struct {
	MockSecurityProvider
	legs int

	ctxMu    sync.Mutex
	contexts []*MockSecurityContext
	inputs   [][]byte
}

func newLegProvider(legs int) *legProvider {
	p := &legProvider{legs: legs}
	p.AcquireFunc = func(_ context.Context, scheme Scheme, _ *Credentials) (SecurityContext, error) {
		n := 0
		sc := &MockSecurityContext{}
		sc.StepFunc = func(_ context.Context, _ string, input []byte) ([]byte, bool, error) {
			p.ctxMu.Lock()
			p.inputs = append(p.inputs, append([]byte(nil), input...))
			p.ctxMu.Unlock()
			n++
			return []byte(fmt.Sprintf("%s-%d", scheme, n)), n < p.legs, nil
		}
		p.ctxMu.Lock()
		p.contexts = append(p.contexts, sc)
		p.ctxMu.Unlock()
		return sc, nil
	}
	return p
}

func (p *legProvider) Contexts() []*MockSecurityContext {
	p.ctxMu.Lock()
	defer p.ctxMu.Unlock()
	return append([]*MockSecurityContext(nil), p.contexts...)
}

func (p *legProvider) Inputs() [][]byte {
	p.ctxMu.Lock()
	defer p.ctxMu.Unlock()
	return append([][]byte(nil), p.inputs...)
}

// headerFor returns the Authorization value a legProvider produces.
func headerFor(scheme Scheme, n int) string {
	return scheme.String() + " " + EncodeToken([]byte(fmt.Sprintf("%s-%d", scheme, n)))
}
