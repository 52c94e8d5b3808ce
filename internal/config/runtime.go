package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// runtimeCacheMaxAge bounds how stale a cached runtime flag read may be.
// Short enough that flipping the SSM parameter takes effect within seconds,
// long enough that recursive batch splits within one dispatch do not hammer
// the SSM API.
const runtimeCacheMaxAge = 5 * time.Second

// RuntimeFlags are the dispatch-time settings that may change between
// invocations without a redeploy: whether to contact the real provider, and
// which base URL to use when we do.
type RuntimeFlags struct {
	LiveRequests bool
	APIBaseURL   string
}

// RuntimeFlagSource yields the current RuntimeFlags. The pipeline reads it
// once per dispatch call.
type RuntimeFlagSource interface {
	Current(ctx context.Context) (RuntimeFlags, error)
}

// SSMRuntimeFlags implements RuntimeFlagSource against SSM Parameter Store
// with a short-lived cache. The live-request parameter value is compared
// case-insensitively against "true"; anything else means silent running.
type SSMRuntimeFlags struct {
	provider          SecretProvider
	liveRequestsParam string
	apiBaseURLParam   string

	mu        sync.Mutex
	cached    RuntimeFlags
	fetchedAt time.Time
}

// NewSSMRuntimeFlags creates a runtime flag source reading the two named SSM
// parameters through the given provider.
func NewSSMRuntimeFlags(provider SecretProvider, liveRequestsParam, apiBaseURLParam string) *SSMRuntimeFlags {
	return &SSMRuntimeFlags{
		provider:          provider,
		liveRequestsParam: liveRequestsParam,
		apiBaseURLParam:   apiBaseURLParam,
	}
}

// Current returns the runtime flags, refreshing from SSM when the cache is
// older than runtimeCacheMaxAge. A fetch failure is returned as an error:
// dispatch must not guess whether it is allowed to contact real patients.
func (s *SSMRuntimeFlags) Current(ctx context.Context) (RuntimeFlags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fetchedAt.IsZero() && time.Since(s.fetchedAt) < runtimeCacheMaxAge {
		return s.cached, nil
	}

	resolved, err := s.provider.GetParametersBatch(ctx, []string{s.liveRequestsParam, s.apiBaseURLParam})
	if err != nil {
		return RuntimeFlags{}, fmt.Errorf("config: fetching runtime flags: %w", err)
	}

	liveRaw, ok := resolved[s.liveRequestsParam]
	if !ok {
		return RuntimeFlags{}, fmt.Errorf("config: runtime flag %s not found", s.liveRequestsParam)
	}
	baseURL, ok := resolved[s.apiBaseURLParam]
	if !ok {
		return RuntimeFlags{}, fmt.Errorf("config: runtime flag %s not found", s.apiBaseURLParam)
	}

	s.cached = RuntimeFlags{
		LiveRequests: strings.EqualFold(strings.TrimSpace(liveRaw), "true"),
		// Secret values may carry stray whitespace.
		APIBaseURL: strings.TrimSpace(baseURL),
	}
	s.fetchedAt = time.Now()

	return s.cached, nil
}

// StaticRuntimeFlags implements RuntimeFlagSource with fixed values. Used in
// local development and tests.
type StaticRuntimeFlags struct {
	Flags RuntimeFlags
}

// Current returns the fixed flags.
func (s StaticRuntimeFlags) Current(context.Context) (RuntimeFlags, error) {
	return s.Flags, nil
}
