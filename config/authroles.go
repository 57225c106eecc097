package config

import (
	"encoding/json"
	"os"

	"github.com/talocan/hharvest/errors"
)

// AuthProvider is one upstream authentication identity from
// config/auth_roles.json. The auth package orders and rotates these;
// this file only defines the on-disk shape.
type AuthProvider struct {
	Name       string   `json:"-"`
	Type       string   `json:"type"` // access_token | oauth
	Token      string   `json:"token,omitempty"`
	Priority   *int     `json:"priority,omitempty"` // lower wins; nil means 100
	AllowedFor []string `json:"allowed_for,omitempty"`
}

// EffectivePriority resolves the explicit priority or the 100 default.
func (p AuthProvider) EffectivePriority() int {
	if p.Priority != nil {
		return *p.Priority
	}
	return 100
}

// AllowedForPurpose reports whether the provider may serve a purpose.
// An empty allowed_for list allows every purpose.
func (p AuthProvider) AllowedForPurpose(purpose string) bool {
	if len(p.AllowedFor) == 0 {
		return true
	}
	for _, a := range p.AllowedFor {
		if a == purpose {
			return true
		}
	}
	return false
}

type authRolesFile struct {
	Providers map[string]AuthProvider `json:"auth_providers"`
}

// AuthRolesPath returns the auth providers file path, honoring
// HHARVEST_AUTH_ROLES.
func AuthRolesPath() string {
	if p := os.Getenv("HHARVEST_AUTH_ROLES"); p != "" {
		return p
	}
	return DefaultAuthRolesPath
}

// LoadAuthProviders reads all providers. A missing file yields an empty
// map: the fetcher then runs unauthenticated.
func LoadAuthProviders() (map[string]AuthProvider, error) {
	return LoadAuthProvidersFrom(AuthRolesPath())
}

// LoadAuthProvidersFrom reads providers from an explicit path.
func LoadAuthProvidersFrom(path string) (map[string]AuthProvider, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]AuthProvider{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read auth roles file")
	}

	var doc authRolesFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse auth roles file")
	}

	for name, p := range doc.Providers {
		p.Name = name
		doc.Providers[name] = p
	}
	return doc.Providers, nil
}

// credentialsFile is the persisted OAuth token store referenced by
// providers of type "oauth".
type credentialsFile struct {
	AccessToken string `json:"access_token"`
}

// LoadOAuthAccessToken reads the persisted OAuth access token, if any.
func LoadOAuthAccessToken() (string, error) {
	path := DefaultCredentialsPath
	if p := os.Getenv("HHARVEST_CREDENTIALS"); p != "" {
		path = p
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read credentials file")
	}

	var doc credentialsFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", errors.Wrap(err, "failed to parse credentials file")
	}
	return doc.AccessToken, nil
}
