package dispatch

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/unifiedai/airelay/pkg/provider"
)

// fakeProvider scripts provider behavior per test and records invocations.
type fakeProvider struct {
	name       string
	keyName    string
	requireKey bool

	mu    sync.Mutex
	calls int

	generate func(params provider.CallParams) (*provider.Result, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) RequiredAPIKeyName() string { return f.keyName }

func (f *fakeProvider) RequiresAPIKey() bool { return f.requireKey }

func (f *fakeProvider) record() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) GenerateText(_ context.Context, params provider.CallParams) (*provider.Result, error) {
	f.record()
	return f.generate(params)
}

func (f *fakeProvider) GenerateObject(_ context.Context, params provider.CallParams) (*provider.Result, error) {
	f.record()
	return f.generate(params)
}

func (f *fakeProvider) StreamText(_ context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	f.record()
	result, err := f.generate(params)
	if err != nil {
		return nil, err
	}
	return &provider.StreamResult{Stream: &staticStream{text: result.Text}, Usage: result.Usage}, nil
}

func (f *fakeProvider) StreamObject(_ context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	return f.StreamText(nil, params)
}

// staticStream yields one chunk then EOF.
type staticStream struct {
	text string
	done bool
}

func (s *staticStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	s.done = true
	return s.text, nil
}

func (s *staticStream) Close() error { return nil }

// testHarness bundles a service wired with three fake providers, one per
// role, and deterministic sleep.
type testHarness struct {
	svc    *Service
	main   *fakeProvider
	fall   *fakeProvider
	res    *fakeProvider
	sleeps []time.Duration
}

func succeedWith(text string) func(provider.CallParams) (*provider.Result, error) {
	return func(provider.CallParams) (*provider.Result, error) {
		return &provider.Result{
			Text:  text,
			Usage: &provider.Usage{InputTokens: 100, OutputTokens: 50},
		}, nil
	}
}

func failWith(err error) func(provider.CallParams) (*provider.Result, error) {
	return func(provider.CallParams) (*provider.Result, error) {
		return nil, err
	}
}

func newHarness(opts ...Option) *testHarness {
	h := &testHarness{
		main: &fakeProvider{name: "alpha", generate: succeedWith("alpha says hi")},
		fall: &fakeProvider{name: "beta", generate: succeedWith("beta says hi")},
		res:  &fakeProvider{name: "gamma", generate: succeedWith("gamma says hi")},
	}

	registry := provider.NewRegistry(h.main, h.fall, h.res)

	settings := &Settings{
		Roles: map[Role]RoleConfig{
			RoleMain:     {Provider: "alpha", ModelID: "alpha-large", MaxTokens: 1024},
			RoleFallback: {Provider: "beta", ModelID: "beta-medium", MaxTokens: 1024},
			RoleResearch: {Provider: "gamma", ModelID: "gamma-deep", MaxTokens: 1024},
		},
		ResponseLanguage: "English",
	}
	loader := func(string) (*Settings, error) { return settings, nil }

	allOpts := append([]Option{
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	}, opts...)

	h.svc = New(registry, loader, allOpts...)
	return h
}

// settingsOf exposes the harness settings for mutation in individual tests.
func (h *testHarness) settingsOf() *Settings {
	settings, _ := h.svc.settings("")
	return settings
}
