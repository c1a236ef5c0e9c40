package tenant

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for unknown tenant ids or chat ids.
var ErrNotFound = errors.New("tenant not found")

// Stats summarises the tenant base.
type Stats struct {
	Total       int             `json:"total"`
	ByTier      map[Tier]int    `json:"by_tier"`
	ByStatus    map[Status]int  `json:"by_status"`
	TotalAlerts int64           `json:"total_alerts"`
	MRR         decimal.Decimal `json:"mrr"`
}

// Registry owns tenant records in memory. All reads return copies.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	byChat  map[string]string
	dirty   bool
	now     func() time.Time
}

// NewRegistry returns an empty registry; now defaults to time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		tenants: make(map[string]*Tenant),
		byChat:  make(map[string]string),
		now:     now,
	}
}

// Load replaces the registry contents with persisted records.
func (r *Registry) Load(records []Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = make(map[string]*Tenant, len(records))
	r.byChat = make(map[string]string, len(records))
	for _, rec := range records {
		t := rec.clone()
		if t.Settings.isZero() {
			ApplyTier(&t, t.Tier)
		}
		r.tenants[t.ID] = &t
		if t.TelegramChatID != "" {
			r.byChat[t.TelegramChatID] = t.ID
		}
	}
	r.dirty = false
}

// Merge folds records written by another process into the registry and returns how many tenants it added or
// replaced. Unknown ids are added. A known tenant takes the stored profile only when the stored UpdatedAt is newer;
// the alert count and last processed time keep the larger of both sides. The dirty flag is left alone.
func (r *Registry) Merge(records []Tenant) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for _, rec := range records {
		local, known := r.tenants[rec.ID]
		if known && !rec.UpdatedAt.After(local.UpdatedAt) {
			continue
		}
		t := rec.clone()
		if t.Settings.isZero() {
			ApplyTier(&t, t.Tier)
		}
		if known {
			t.AlertCount = max(t.AlertCount, local.AlertCount)
			if local.LastProcessedAt.After(t.LastProcessedAt) {
				t.LastProcessedAt = local.LastProcessedAt
			}
			if r.byChat[local.TelegramChatID] == t.ID {
				delete(r.byChat, local.TelegramChatID)
			}
		}
		r.tenants[t.ID] = &t
		if t.TelegramChatID != "" {
			r.byChat[t.TelegramChatID] = t.ID
		}
		changed++
	}
	return changed
}

// Create registers a tenant on tier. A known chat id returns the existing tenant with created=false.
func (r *Registry) Create(name, chatID string, tier Tier) (Tenant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chatID = strings.TrimSpace(chatID)
	if id, ok := r.byChat[chatID]; ok && chatID != "" {
		return r.tenants[id].clone(), false
	}

	now := r.now().UTC()
	t := Tenant{
		ID:             uuid.NewString(),
		Name:           name,
		TelegramChatID: chatID,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ApplyTier(&t, tier)
	if tier.Paid() {
		expires := now.Add(DefaultUpgradeDuration)
		t.UpgradedAt = &now
		t.ExpiresAt = &expires
	}

	r.tenants[t.ID] = &t
	if chatID != "" {
		r.byChat[chatID] = t.ID
	}
	r.dirty = true
	return t.clone(), true
}

// Get returns the tenant with id.
func (r *Registry) Get(id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t.clone(), nil
}

// GetByTelegram resolves a tenant from its Telegram chat id.
func (r *Registry) GetByTelegram(chatID string) (Tenant, error) {
	r.mu.RLock()
	id, ok := r.byChat[chatID]
	r.mu.RUnlock()
	if !ok {
		return Tenant{}, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	return r.Get(id)
}

// UpdateSettings validates and applies a partial update. A rejected update leaves the tenant untouched.
func (r *Registry) UpdateSettings(id string, update SettingsUpdate) (Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next, err := update.Apply(t.Settings, PolicyFor(t.Tier))
	if err != nil {
		return t.clone(), err
	}
	t.Settings = next
	t.UpdatedAt = r.now().UTC()
	r.dirty = true
	return t.clone(), nil
}

// UpgradeTier moves a tenant onto tier for duration and resets its settings to the tier defaults.
func (r *Registry) UpgradeTier(id string, tier Tier, duration time.Duration) (Tenant, error) {
	if duration <= 0 {
		duration = DefaultUpgradeDuration
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := r.now().UTC()
	ApplyTier(t, tier)
	if tier.Paid() {
		expires := now.Add(duration)
		t.UpgradedAt = &now
		t.ExpiresAt = &expires
	} else {
		t.UpgradedAt = nil
		t.ExpiresAt = nil
	}
	t.UpdatedAt = now
	r.dirty = true
	return t.clone(), nil
}

// DowngradeExpired moves lapsed paid tenants back to free and returns them.
func (r *Registry) DowngradeExpired() []Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Tenant, 0)
	for _, t := range r.tenants {
		if !t.Expired(now) {
			continue
		}
		ApplyTier(t, TierFree)
		t.UpgradedAt = nil
		t.ExpiresAt = nil
		t.UpdatedAt = now.UTC()
		out = append(out, t.clone())
	}
	if len(out) > 0 {
		r.dirty = true
	}
	sortTenants(out)
	return out
}

// SetStatus activates or suspends a tenant.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t.Status = status
	t.UpdatedAt = r.now().UTC()
	r.dirty = true
	return nil
}

// IncrementAlertCount adds n to the tenant's cumulative counter.
func (r *Registry) IncrementAlertCount(id string, n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok && n != 0 {
		t.AlertCount += n
		r.dirty = true
	}
}

// MarkProcessed records when the tenant was last evaluated.
func (r *Registry) MarkProcessed(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		t.LastProcessedAt = at
	}
}

// Active returns active tenants in creation order.
func (r *Registry) Active() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		if t.Active() {
			out = append(out, t.clone())
		}
	}
	sortTenants(out)
	return out
}

// Snapshot returns every tenant in creation order.
func (r *Registry) Snapshot() []Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t.clone())
	}
	sortTenants(out)
	return out
}

// Dirty reports whether there are changes not yet persisted.
func (r *Registry) Dirty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dirty
}

// MarkClean clears the dirty flag after a successful save.
func (r *Registry) MarkClean() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = false
}

// MarkDirty flags the registry for the next save, e.g. after a failed one.
func (r *Registry) MarkDirty() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirty = true
}

// Stats counts tenants per tier and status and computes monthly recurring revenue from active paid tenants.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Total:    len(r.tenants),
		ByTier:   make(map[Tier]int),
		ByStatus: make(map[Status]int),
		MRR:      decimal.Zero,
	}
	for _, t := range r.tenants {
		stats.ByTier[t.Tier]++
		stats.ByStatus[t.Status]++
		stats.TotalAlerts += t.AlertCount
		if t.Active() {
			stats.MRR = stats.MRR.Add(PolicyFor(t.Tier).MonthlyPriceUSD)
		}
	}
	return stats
}

func sortTenants(ts []Tenant) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
