// Package auth selects and rotates upstream API identities. Providers
// come from config/auth_roles.json, ordered by type preference and
// priority. When the upstream rejects a token the fetch layer marks
// the provider failed and the registry rotates to the next healthy
// one, rate-limited by a cooldown. The registry performs no network
// calls of its own.
package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/sym"
)

// PurposeDownload is the purpose vacancy and employer fetching runs
// under. Providers restrict themselves via allowed_for.
const PurposeDownload = "download"

// DefaultRotationCooldown gates how often provider failures may
// trigger a rotation.
const DefaultRotationCooldown = 60 * time.Second

// Registry holds process-wide provider rotation state. Providers are
// re-read from disk on every call so auth_roles.json edits take
// effect without a restart.
type Registry struct {
	mu           sync.Mutex
	currentIndex int
	failed       map[string]struct{}
	lastRotation time.Time
	cooldown     time.Duration
	logger       *zap.SugaredLogger
}

// NewRegistry returns a registry with the default rotation cooldown.
func NewRegistry(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		failed:   map[string]struct{}{},
		cooldown: DefaultRotationCooldown,
		logger:   logger,
	}
}

// Providers returns all providers allowed for the purpose, ordered by
// type preference (access_token, then oauth, then anything else) and
// ascending priority. Name breaks remaining ties so the order is
// stable across loads.
func (r *Registry) Providers(purpose string) []config.AuthProvider {
	all, err := config.LoadAuthProviders()
	if err != nil {
		r.warnw("Failed to load auth providers", "error", err)
		return nil
	}

	providers := make([]config.AuthProvider, 0, len(all))
	for _, p := range all {
		if p.AllowedForPurpose(purpose) {
			providers = append(providers, p)
		}
	}

	sort.Slice(providers, func(i, j int) bool {
		pi, pj := typePreference(providers[i].Type), typePreference(providers[j].Type)
		if pi != pj {
			return pi < pj
		}
		if providers[i].EffectivePriority() != providers[j].EffectivePriority() {
			return providers[i].EffectivePriority() < providers[j].EffectivePriority()
		}
		return providers[i].Name < providers[j].Name
	})
	return providers
}

func typePreference(providerType string) int {
	switch strings.ToLower(providerType) {
	case "access_token":
		return 0
	case "oauth":
		return 1
	default:
		return 2
	}
}

// ChooseProvider returns the provider at the current rotation index,
// or nil when none are configured for the purpose.
func (r *Registry) ChooseProvider(purpose string) *config.AuthProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chooseLocked(purpose)
}

func (r *Registry) chooseLocked(purpose string) *config.AuthProvider {
	providers := r.Providers(purpose)
	if len(providers) == 0 {
		return nil
	}
	if r.currentIndex >= len(providers) {
		r.currentIndex = 0
	}
	p := providers[r.currentIndex]
	return &p
}

// MarkProviderFailed records an upstream rejection for the named
// provider and rotates when the cooldown has elapsed.
func (r *Registry) MarkProviderFailed(name string) {
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed[name] = struct{}{}
	r.warnw("Auth provider marked as failed", "provider", name)

	if time.Since(r.lastRotation) > r.cooldown {
		r.rotateLocked(PurposeDownload)
	}
}

// RotateToNext advances to the next provider that is not marked
// failed, scanning cyclically from the current index. When every
// provider has failed the failure set is cleared and rotation starts
// over at the first provider.
func (r *Registry) RotateToNext(purpose string) *config.AuthProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(purpose)
}

func (r *Registry) rotateLocked(purpose string) *config.AuthProvider {
	providers := r.Providers(purpose)
	if len(providers) <= 1 {
		r.infow("Only one or no auth providers available, cannot rotate")
		if len(providers) == 0 {
			return nil
		}
		r.currentIndex = 0
		p := providers[0]
		return &p
	}

	for i := 1; i < len(providers); i++ {
		next := (r.currentIndex + i) % len(providers)
		if _, bad := r.failed[providers[next].Name]; bad {
			continue
		}
		r.currentIndex = next
		r.lastRotation = time.Now()
		r.infow("Rotated to auth provider", "provider", providers[next].Name, "index", next)
		p := providers[next]
		return &p
	}

	r.warnw("All auth providers failed, resetting failure state")
	r.failed = map[string]struct{}{}
	r.currentIndex = 0
	r.lastRotation = time.Now()
	p := providers[0]
	return &p
}

// Reset clears rotation state. Operator hook for recovery.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.currentIndex = 0
	r.failed = map[string]struct{}{}
	r.lastRotation = time.Time{}
	r.infow("Auth rotation state reset", "symbol", sym.Auth)
}

// Headers returns the Authorization header for the current provider,
// or an empty map when unauthenticated access is all we have.
// access_token providers carry their token inline; oauth providers
// read the persisted token from config/credentials.json.
func (r *Registry) Headers(purpose string) map[string]string {
	r.mu.Lock()
	p := r.chooseLocked(purpose)
	r.mu.Unlock()

	if p == nil {
		return map[string]string{}
	}

	switch strings.ToLower(p.Type) {
	case "access_token":
		if p.Token != "" {
			return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", p.Token)}
		}
	case "oauth":
		token, err := config.LoadOAuthAccessToken()
		if err != nil {
			r.warnw("Failed to load OAuth credentials", "error", err)
			return map[string]string{}
		}
		if token != "" {
			return map[string]string{"Authorization": fmt.Sprintf("Bearer %s", token)}
		}
		r.warnw("OAuth provider selected but no access token found", "provider", p.Name)
	}
	return map[string]string{}
}

// CurrentProviderName reports which provider Headers would use, for
// request logging.
func (r *Registry) CurrentProviderName(purpose string) string {
	p := r.ChooseProvider(purpose)
	if p == nil {
		return ""
	}
	return p.Name
}

func (r *Registry) infow(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Infow(msg, kv...)
	}
}

func (r *Registry) warnw(msg string, kv ...interface{}) {
	if r.logger != nil {
		r.logger.Warnw(msg, kv...)
	}
}
