// Package store is the Credential Store: a durable, GORM-backed
// key-value mapping from (provider, identity) to credential rows.
package store

import "time"

// Provider tags the upstream backend a credential belongs to.
type Provider string

const (
	ProviderGeminiCli Provider = "geminicli"
	ProviderCodex     Provider = "codex"
)

// Status is whether a credential may be scheduled.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
)

// Credential is one row per provider+project identity, matching the
// data model's invariants: (provider, identity) is unique.
type Credential struct {
	ID                   string    `gorm:"primaryKey"`
	Provider             Provider  `gorm:"uniqueIndex:idx_provider_identity;not null"`
	Identity             string    `gorm:"uniqueIndex:idx_provider_identity;not null"`
	ClientID             string
	ClientSecret         string
	RefreshToken         string
	AccessToken          string
	AccessTokenExpiresAt time.Time
	Status               Status `gorm:"default:enabled"`
	LastError            string
	ProviderExtras       string // opaque JSON blob
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName pins the GORM table name regardless of struct renames.
func (Credential) TableName() string { return "credentials" }

// NeedsRefresh reports whether the access token is absent or within the
// expiry safety margin of now.
func (c *Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return true
	}
	return c.AccessTokenExpiresAt.Before(now.Add(margin))
}
