package tenant

import (
	"context"
	"time"
)

// Status of a tenant account.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// DefaultUpgradeDuration is how long a paid upgrade lasts.
const DefaultUpgradeDuration = 30 * 24 * time.Hour

// Tenant is one subscriber with independent symbols, thresholds and alert history.
type Tenant struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	TelegramChatID  string     `json:"telegram_chat_id"`
	Tier            Tier       `json:"tier"`
	Status          Status     `json:"status"`
	Settings        Settings   `json:"settings"`
	AlertCount      int64      `json:"alert_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpgradedAt      *time.Time `json:"upgraded_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	LastProcessedAt time.Time  `json:"last_processed_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Active reports whether the tenant is processed by the scheduler.
func (t Tenant) Active() bool {
	return t.Status == StatusActive
}

// Features returns the detectors the tenant's tier unlocks.
func (t Tenant) Features() Features {
	return PolicyFor(t.Tier).Features
}

// Expired reports whether a paid subscription has lapsed at now.
func (t Tenant) Expired(now time.Time) bool {
	return t.Tier.Paid() && t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Due reports whether the tenant's own poll interval has elapsed since it was last processed.
func (t Tenant) Due(now time.Time) bool {
	if t.LastProcessedAt.IsZero() {
		return true
	}
	return now.Sub(t.LastProcessedAt) >= t.Settings.PollInterval()
}

func (t Tenant) clone() Tenant {
	t.Settings = t.Settings.clone()
	if t.UpgradedAt != nil {
		v := *t.UpgradedAt
		t.UpgradedAt = &v
	}
	if t.ExpiresAt != nil {
		v := *t.ExpiresAt
		t.ExpiresAt = &v
	}
	return t
}

// Store persists the tenant record set.
type Store interface {
	LoadTenants(ctx context.Context) ([]Tenant, error)
	SaveTenants(ctx context.Context, tenants []Tenant) error
}
