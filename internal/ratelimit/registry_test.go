package ratelimit

import "testing"

func TestResolveScopeMetadata(t *testing.T) {
	r := NewRegistry()

	for _, action := range []string{"listdir", "getinfo", "clone", "drill"} {
		t.Run(action, func(t *testing.T) {
			if got := r.ResolveScope(action); got != ScopeMetadata {
				t.Errorf("ResolveScope(%q) = %q, want %q", action, got, ScopeMetadata)
			}
		})
	}
}

func TestResolveScopeTransfer(t *testing.T) {
	r := NewRegistry()

	for _, action := range []string{"sendchanges", "receivechanges"} {
		t.Run(action, func(t *testing.T) {
			if got := r.ResolveScope(action); got != ScopeTransfer {
				t.Errorf("ResolveScope(%q) = %q, want %q", action, got, ScopeTransfer)
			}
		})
	}
}

func TestResolveScopePoll(t *testing.T) {
	r := NewRegistry()

	for _, action := range []string{"pollchanges", "listenchanges"} {
		t.Run(action, func(t *testing.T) {
			if got := r.ResolveScope(action); got != ScopePoll {
				t.Errorf("ResolveScope(%q) = %q, want %q", action, got, ScopePoll)
			}
		})
	}
}

func TestResolveScopeIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	if got := r.ResolveScope("SendChanges"); got != ScopeTransfer {
		t.Errorf("ResolveScope(%q) = %q, want %q", "SendChanges", got, ScopeTransfer)
	}
}

func TestResolveScopeUnknownAction(t *testing.T) {
	r := NewRegistry()
	got := r.ResolveScope("someFutureAction")
	if got != ScopeMetadata {
		t.Errorf("unknown action: got %q, want default %q", got, ScopeMetadata)
	}
}

func TestGetScopeConfig(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		scope     Scope
		wantRate  float64
		wantBurst float64
	}{
		{ScopeMetadata, MetadataRatePerSec, MetadataBurstCapacity},
		{ScopeTransfer, TransferRatePerSec, TransferBurstCapacity},
		{ScopePoll, PollRatePerSec, PollBurstCapacity},
	}

	for _, tt := range tests {
		t.Run(string(tt.scope), func(t *testing.T) {
			cfg := r.GetScopeConfig(tt.scope)
			if cfg.TargetRate != tt.wantRate {
				t.Errorf("TargetRate = %v, want %v", cfg.TargetRate, tt.wantRate)
			}
			if cfg.BurstCapacity != tt.wantBurst {
				t.Errorf("BurstCapacity = %v, want %v", cfg.BurstCapacity, tt.wantBurst)
			}
		})
	}
}

func TestGetScopeConfigUnknown(t *testing.T) {
	r := NewRegistry()

	cfg := r.GetScopeConfig(Scope("nonexistent"))
	if cfg.Scope != ScopeMetadata {
		t.Errorf("unknown scope: got %q, want %q", cfg.Scope, ScopeMetadata)
	}
}

func TestAllScopes(t *testing.T) {
	r := NewRegistry()
	scopes := r.AllScopes()

	if len(scopes) != 3 {
		t.Fatalf("AllScopes() returned %d scopes, want 3", len(scopes))
	}

	found := make(map[Scope]bool)
	for _, s := range scopes {
		found[s] = true
	}
	for _, want := range []Scope{ScopeMetadata, ScopeTransfer, ScopePoll} {
		if !found[want] {
			t.Errorf("AllScopes() missing %q", want)
		}
	}
}

func TestScopeDisplayString(t *testing.T) {
	r := NewRegistry()

	for _, scope := range r.AllScopes() {
		s := r.ScopeDisplayString(scope)
		if s == "" {
			t.Errorf("ScopeDisplayString(%q) returned empty string", scope)
		}
	}

	s := r.ScopeDisplayString(Scope("bogus"))
	if s == "" {
		t.Error("ScopeDisplayString for unknown scope returned empty string")
	}
}

func TestRulesAreSortedLongestActionFirst(t *testing.T) {
	r := NewRegistry()

	for i := 1; i < len(r.rules); i++ {
		if len(r.rules[i].Action) > len(r.rules[i-1].Action) {
			t.Errorf("rules not sorted: rule[%d] (%q) longer than rule[%d] (%q)",
				i, r.rules[i].Action, i-1, r.rules[i-1].Action)
		}
	}
}
