package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Registry owns all agent records. Every mutation goes through its Store's
// atomic Update, so it is safe for concurrent use.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry over store. A nil store means a fresh MemoryStore.
func New(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return "agent-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOption sets optional fields of a new record.
type RegisterOption func(*AgentRecord)

// WithEndpoint records the base URL where the agent serves its services.
func WithEndpoint(endpoint string) RegisterOption {
	return func(rec *AgentRecord) {
		rec.Endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	}
}

// Register creates a record with the starting reputation.
func (r *Registry) Register(ctx context.Context, name string, services []string, address string, opts ...RegisterOption) (AgentRecord, error) {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	services = dedupe(services)
	if name == "" || address == "" || len(services) == 0 {
		return AgentRecord{}, ErrInvalidAgent
	}

	now := r.now().UTC()
	record := AgentRecord{
		ID:           r.newID(),
		Name:         name,
		Services:     services,
		Address:      address,
		Reputation:   StartingReputation,
		RegisteredAt: now,
		LastSeen:     now,
	}
	for _, opt := range opts {
		opt(&record)
	}
	if !validEndpoint(record.Endpoint) {
		return AgentRecord{}, fmt.Errorf("%w: endpoint %q is not an http(s) URL", ErrInvalidAgent, record.Endpoint)
	}
	if err := r.store.Insert(ctx, record); err != nil {
		return AgentRecord{}, err
	}
	r.logger.Info("agent registered", "agentId", record.ID, "name", name, "services", record.Services)
	return record, nil
}

// Lookup returns the record for id.
func (r *Registry) Lookup(ctx context.Context, id string) (AgentRecord, error) {
	return r.store.Get(ctx, id)
}

// List returns every record in registration order. A non-empty capability
// keeps only agents advertising it.
func (r *Registry) List(ctx context.Context, capability string) ([]AgentRecord, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AgentRecord, 0, len(all))
	for i := range all {
		if capability == "" || all[i].Offers(capability) {
			out = append(out, all[i])
		}
	}
	return out, nil
}

// Heartbeat refreshes the last-seen time of id.
func (r *Registry) Heartbeat(ctx context.Context, id string) (AgentRecord, error) {
	return r.store.Update(ctx, id, func(rec *AgentRecord) error {
		rec.LastSeen = r.now().UTC()
		return nil
	})
}

// AdjustReputation adds delta to the reputation of id, clamped to
// [MinReputation, MaxReputation].
func (r *Registry) AdjustReputation(ctx context.Context, id string, delta int) (AgentRecord, error) {
	rec, err := r.store.Update(ctx, id, func(rec *AgentRecord) error {
		rec.Reputation = addClamped(rec.Reputation, delta, MinReputation, MaxReputation)
		return nil
	})
	if err != nil {
		return AgentRecord{}, err
	}
	r.logger.Info("reputation adjusted", "agentId", id, "delta", delta, "reputation", rec.Reputation)
	return rec, nil
}

// addClamped returns v+delta limited to [lo, hi]. v must already be in
// range; delta may be any int without overflowing.
func addClamped(v, delta, lo, hi int) int {
	switch {
	case delta > hi-v:
		return hi
	case delta < lo-v:
		return lo
	}
	return v + delta
}

// validEndpoint accepts an empty endpoint or an absolute http(s) URL.
func validEndpoint(endpoint string) bool {
	if endpoint == "" {
		return true
	}
	u, err := url.Parse(endpoint)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// dedupe keeps the first occurrence of each service, preserving order.
func dedupe(services []string) []string {
	seen := make(map[string]struct{}, len(services))
	out := make([]string, 0, len(services))
	for _, s := range services {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
