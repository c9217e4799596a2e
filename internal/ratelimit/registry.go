package ratelimit

import (
	"fmt"
	"sort"
	"strings"
)

// Scope identifies a blind-backup server action throttle scope.
type Scope string

const (
	// ScopeMetadata covers listdir, getinfo, clone, and drill — cheap,
	// read-only directory-metadata actions.
	ScopeMetadata Scope = "metadata"

	// ScopeTransfer covers sendchanges and receivechanges — actions that
	// carry encrypted file bodies.
	ScopeTransfer Scope = "transfer"

	// ScopePoll covers pollchanges/listenchanges long-poll requests.
	ScopePoll Scope = "poll"
)

// ScopeConfig holds the rate limit configuration for a single scope.
type ScopeConfig struct {
	Scope         Scope
	HardLimitPerS float64 // assumed server hard limit, for utilization reporting
	TargetRate    float64 // our target rate (requests per second)
	BurstCapacity float64 // token bucket burst capacity
}

// ActionRule maps a wire-protocol action name to its throttle scope.
type ActionRule struct {
	// Action is the "action" field of the RPC request (see
	// internal/provider/remote and internal/server).
	Action string
	Scope  Scope
}

// Registry is the single source of truth for action-to-scope mapping and
// per-scope rate limit configuration.
type Registry struct {
	rules        []ActionRule
	scopeConfigs map[Scope]ScopeConfig
	defaultScope Scope
}

// NewRegistry creates the action-scope registry with the blind-backup wire
// protocol's known actions and scope configurations.
func NewRegistry() *Registry {
	r := &Registry{
		defaultScope: ScopeMetadata,
		scopeConfigs: map[Scope]ScopeConfig{
			ScopeMetadata: {
				Scope:         ScopeMetadata,
				HardLimitPerS: MetadataRatePerSec * 1.25,
				TargetRate:    MetadataRatePerSec,
				BurstCapacity: MetadataBurstCapacity,
			},
			ScopeTransfer: {
				Scope:         ScopeTransfer,
				HardLimitPerS: TransferRatePerSec * 1.25,
				TargetRate:    TransferRatePerSec,
				BurstCapacity: TransferBurstCapacity,
			},
			ScopePoll: {
				Scope:         ScopePoll,
				HardLimitPerS: PollRatePerSec * 1.25,
				TargetRate:    PollRatePerSec,
				BurstCapacity: PollBurstCapacity,
			},
		},
	}

	r.rules = []ActionRule{
		{Action: "sendchanges", Scope: ScopeTransfer},
		{Action: "receivechanges", Scope: ScopeTransfer},
		{Action: "pollchanges", Scope: ScopePoll},
		{Action: "listenchanges", Scope: ScopePoll},
		{Action: "listdir", Scope: ScopeMetadata},
		{Action: "getinfo", Scope: ScopeMetadata},
		{Action: "clone", Scope: ScopeMetadata},
		{Action: "drill", Scope: ScopeMetadata},
	}

	sort.Slice(r.rules, func(i, j int) bool {
		return len(r.rules[i].Action) > len(r.rules[j].Action)
	})

	return r
}

// ResolveScope determines the throttle scope for a given wire-protocol
// action name, falling back to ScopeMetadata if the action is unknown.
func (r *Registry) ResolveScope(action string) Scope {
	action = strings.ToLower(action)
	for _, rule := range r.rules {
		if rule.Action == action {
			return rule.Scope
		}
	}
	return r.defaultScope
}

// GetScopeConfig returns the rate limit configuration for a scope, falling
// back to the default scope's config if scope is unrecognized.
func (r *Registry) GetScopeConfig(scope Scope) ScopeConfig {
	if cfg, ok := r.scopeConfigs[scope]; ok {
		return cfg
	}
	return r.scopeConfigs[r.defaultScope]
}

// AllScopes returns all configured scope names.
func (r *Registry) AllScopes() []Scope {
	scopes := make([]Scope, 0, len(r.scopeConfigs))
	for s := range r.scopeConfigs {
		scopes = append(scopes, s)
	}
	return scopes
}

// ScopeDisplayString returns a human-readable description of the scope for logging.
func (r *Registry) ScopeDisplayString(scope Scope) string {
	cfg, ok := r.scopeConfigs[scope]
	if !ok {
		return string(scope) + " (unknown scope)"
	}
	return fmt.Sprintf("%s (%.1f/sec target, burst %.0f)", scope, cfg.TargetRate, cfg.BurstCapacity)
}
