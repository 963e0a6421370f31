// Package auth implements the access control layer: token to identity
// resolution, scope authorization and per-identity rate limiting. The
// identity table is loaded once at initialization and immutable afterwards.
package auth

import (
	"crypto/subtle"
	"os"
	"sort"
	"strings"

	"svchub/internal/config"
	"svchub/internal/protocol"
	"svchub/pkg/logging"
)

// Wildcard grants an identity access to every service.
const Wildcard = "*"

// LegacyIdentityID is the id of the catch-all identity registered from the
// fallback token variable for backward compatibility.
const LegacyIdentityID = "legacy"

// Identity is an authenticated caller profile. Immutable after load.
type Identity struct {
	ID     string
	Name   string
	token  string
	scopes map[string]bool
	// wildcard callers are never scope-rejected.
	wildcard bool

	RateLimit config.RateLimitConfig
}

// AllowedServices returns the explicit scope set in sorted order, or ["*"]
// for wildcard identities. Used by status surfaces only.
func (id *Identity) AllowedServices() []string {
	if id.wildcard {
		return []string{Wildcard}
	}
	out := make([]string, 0, len(id.scopes))
	for name := range id.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Authenticator resolves bearer tokens to identities and enforces scope and
// quota. One instance is shared by every transport so quotas apply across
// them.
type Authenticator struct {
	byToken map[string]*Identity
	byID    map[string]*Identity
	limiter *limiter
}

// NewAuthenticator loads the identity table. An identity is registered only
// if its secret environment variable is non-empty; absence disables it
// silently. When the legacy fallback variable is set and its token is not
// already bound, a wildcard-scope catch-all identity is registered.
func NewAuthenticator(cfg config.AuthConfig, identities []config.IdentityDefinition) *Authenticator {
	a := &Authenticator{
		byToken: make(map[string]*Identity),
		byID:    make(map[string]*Identity),
		limiter: newLimiter(cfg.RateLimit),
	}

	for _, def := range identities {
		token := os.Getenv(def.TokenEnv)
		if token == "" {
			logging.Debug("Auth", "Identity %s disabled: %s not set", def.ID, def.TokenEnv)
			continue
		}

		id := &Identity{
			ID:        def.ID,
			Name:      def.Name,
			token:     token,
			scopes:    make(map[string]bool, len(def.Services)),
			RateLimit: cfg.RateLimit,
		}
		if def.RateLimit != nil {
			id.RateLimit = *def.RateLimit
		}
		for _, svc := range def.Services {
			if svc == Wildcard {
				id.wildcard = true
				continue
			}
			id.scopes[svc] = true
		}

		a.byToken[token] = id
		a.byID[def.ID] = id
		logging.Info("Auth", "Registered identity: %s", def.ID)
	}

	if cfg.LegacyTokenEnv != "" {
		if token := os.Getenv(cfg.LegacyTokenEnv); token != "" {
			if _, bound := a.byToken[token]; !bound {
				id := &Identity{
					ID:        LegacyIdentityID,
					Name:      "Legacy API token",
					token:     token,
					wildcard:  true,
					RateLimit: cfg.RateLimit,
				}
				a.byToken[token] = id
				a.byID[id.ID] = id
				logging.Info("Auth", "Registered legacy catch-all identity from %s", cfg.LegacyTokenEnv)
			}
		}
	}

	return a
}

// Identities returns the number of registered identities.
func (a *Authenticator) Identities() int {
	return len(a.byID)
}

// Authenticate resolves a bearer token to an identity. A missing credential
// and an unknown credential are distinguished in the message but share the
// AUTH_FAILED code.
func (a *Authenticator) Authenticate(token string) (*Identity, *protocol.Error) {
	if token == "" {
		return nil, protocol.NewError(protocol.CodeAuthFailed, "authentication required")
	}
	for candidate, id := range a.byToken {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return id, nil
		}
	}
	return nil, protocol.NewError(protocol.CodeAuthFailed, "authentication failed")
}

// Authorize checks that an identity may address the target service.
// Wildcard scope always passes; explicit scope requires exact membership.
func (a *Authenticator) Authorize(id *Identity, service string) *protocol.Error {
	if id.wildcard {
		return nil
	}
	if id.scopes[service] {
		return nil
	}
	return protocol.Errorf(protocol.CodeScopeViolation,
		"identity %q is not allowed to access service %q", id.ID, service)
}

// CheckRateLimit consumes one unit of the identity's fixed-window quota.
func (a *Authenticator) CheckRateLimit(id *Identity) *protocol.Error {
	if a.limiter.allow(id) {
		return nil
	}
	return protocol.Errorf(protocol.CodeRateLimited,
		"rate limit exceeded for identity %q", id.ID)
}

// BearerToken extracts the credential from an Authorization header value,
// accepting both "Bearer <token>" and a bare token.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return header
}
