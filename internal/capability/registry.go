// Package capability implements the provider registry shared by the STT and
// TTS pipelines. A registry holds an ordered set of interchangeable backends
// for one capability and drives the fallback chain when the preferred backend
// fails: external speech services drop out regularly (quota, network, account
// state), and a hard dependency on any single one cascades into user-visible
// outages.
package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Provider is the minimal contract a backend must satisfy to be registered.
type Provider interface {
	Name() string
}

// Descriptor reports the registry's view of one backend.
type Descriptor struct {
	Name       string `json:"name"`
	Capability string `json:"capability"`
	Priority   int    `json:"priority"`
	Available  bool   `json:"available"`
	Current    bool   `json:"current"`
}

// Attempt records one provider invocation inside a fallback chain.
type Attempt struct {
	Provider string
	Err      error
}

// ExhaustedError is returned when every registered provider failed. It
// enumerates each attempt so operators can tell a quota failure from a
// network one without grepping logs.
type ExhaustedError struct {
	Capability string
	Attempts   []Attempt
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all %s providers exhausted", e.Capability)
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s: %v", a.Provider, a.Err)
	}
	return b.String()
}

// UnknownProviderError is returned by SwitchCurrent for an unregistered name.
type UnknownProviderError struct {
	Capability string
	Name       string
	Known      []string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown %s provider %q (registered: %s)", e.Capability, e.Name, strings.Join(e.Known, ", "))
}

type entry[P Provider] struct {
	provider  P
	priority  int
	available bool
}

// Registry holds prioritized providers for one capability and selects among
// them. All methods are safe for concurrent use; a single coarse lock is
// enough given how rarely the provider set mutates.
type Registry[P Provider] struct {
	capability string
	log        *slog.Logger

	mu      sync.RWMutex
	entries []*entry[P]
	current string

	attempts metric.Int64Counter
}

func NewRegistry[P Provider](capability string, log *slog.Logger) *Registry[P] {
	r := &Registry[P]{
		capability: capability,
		log:        log.With(slog.String("component", capability+"-registry")),
	}
	meter := otel.Meter("github.com/voxa-labs/voxa-core/capability")
	counter, err := meter.Int64Counter("voxa.capability.attempts",
		metric.WithDescription("Provider invocation attempts by capability, provider and outcome"))
	if err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	} else {
		r.attempts = counter
	}
	return r
}

// Register adds a provider at the given priority. Lower priority values are
// tried first. The first registered provider becomes current.
func (r *Registry[P]) Register(p P, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, &entry[P]{provider: p, priority: priority, available: true})
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].priority < r.entries[j].priority
	})
	if r.current == "" {
		r.current = r.entries[0].provider.Name()
	}
}

// SwitchCurrent changes the default provider for subsequent Invoke calls.
func (r *Registry[P]) SwitchCurrent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.provider.Name() == name {
			r.current = name
			r.log.Info("switched current provider", slog.String("provider", name))
			return nil
		}
	}
	return &UnknownProviderError{Capability: r.capability, Name: name, Known: r.namesLocked()}
}

// Current returns the provider Invoke will try first.
func (r *Registry[P]) Current() (P, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero P
	if len(r.entries) == 0 {
		return zero, &ExhaustedError{Capability: r.capability}
	}
	for _, e := range r.entries {
		if e.provider.Name() == r.current {
			return e.provider, nil
		}
	}
	return r.entries[0].provider, nil
}

// Names lists registered provider names in priority order.
func (r *Registry[P]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry[P]) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.provider.Name())
	}
	return names
}

// Descriptors snapshots the registry state for diagnostics endpoints.
func (r *Registry[P]) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Descriptor{
			Name:       e.provider.Name(),
			Capability: r.capability,
			Priority:   e.priority,
			Available:  e.available,
			Current:    e.provider.Name() == r.current,
		})
	}
	return out
}

// Invoke calls fn against the current provider and, on failure, against each
// remaining provider in priority order until one succeeds. Degradation is
// per-call: a provider that fails here is still eligible on the next Invoke,
// though its Available flag stays down for diagnostics until it succeeds
// again. Context cancellation counts as a provider failure so that timeouts
// trigger the same fallback path.
func (r *Registry[P]) Invoke(ctx context.Context, fn func(context.Context, P) error) error {
	chain := r.fallbackChain()
	if len(chain) == 0 {
		return &ExhaustedError{Capability: r.capability}
	}

	var attempts []Attempt
	for _, p := range chain {
		if err := ctx.Err(); err != nil && len(attempts) > 0 {
			// The caller is gone; no point burning quota on more backends.
			attempts = append(attempts, Attempt{Provider: p.Name(), Err: err})
			break
		}
		err := fn(ctx, p)
		r.observe(ctx, p.Name(), err)
		if err == nil {
			r.setAvailable(p.Name(), true)
			r.log.Debug("provider attempt succeeded", slog.String("provider", p.Name()))
			return nil
		}
		r.setAvailable(p.Name(), false)
		r.log.Warn("provider attempt failed",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()))
		attempts = append(attempts, Attempt{Provider: p.Name(), Err: err})
	}
	return &ExhaustedError{Capability: r.capability, Attempts: attempts}
}

// fallbackChain returns the current provider followed by the rest in
// priority order.
func (r *Registry[P]) fallbackChain() []P {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make([]P, 0, len(r.entries))
	for _, e := range r.entries {
		if e.provider.Name() == r.current {
			chain = append(chain, e.provider)
			break
		}
	}
	for _, e := range r.entries {
		if e.provider.Name() != r.current {
			chain = append(chain, e.provider)
		}
	}
	return chain
}

func (r *Registry[P]) setAvailable(name string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.provider.Name() == name {
			e.available = available
			return
		}
	}
}

func (r *Registry[P]) observe(ctx context.Context, provider string, err error) {
	if r.attempts == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("capability", r.capability),
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}
