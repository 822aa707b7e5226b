package quota

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/harrison/ralph-ultra/internal/bus"
	"github.com/harrison/ralph-ultra/internal/models"
)

// Cache TTLs. The snapshot is refreshed lazily; the usage sub-quota
// (live probe results) expires faster so degradation is noticed sooner.
const (
	snapshotTTL = 5 * time.Minute
	usageTTL    = 30 * time.Second
)

// Manager owns the provider→quota map and the static model catalog.
// Consumers receive frozen snapshot copies and never write back.
type Manager struct {
	mu          sync.Mutex
	bus         *bus.Bus
	detectors   []Detector
	catalog     map[string]models.Model
	snapshot    models.QuotaSnapshot
	refreshedAt time.Time

	usageMu    sync.Mutex
	usageCache map[models.Provider]usageEntry
}

type usageEntry struct {
	utilization float64
	resetAt     *time.Time
	details     string
	err         error
	at          time.Time
}

// NewManager creates a quota manager publishing on the given bus.
func NewManager(eventBus *bus.Bus) *Manager {
	client := &http.Client{Timeout: 10 * time.Second}
	return &Manager{
		bus:        eventBus,
		detectors:  defaultDetectors(client),
		catalog:    CatalogByID(),
		usageCache: make(map[models.Provider]usageEntry),
	}
}

// NewManagerWithDetectors creates a manager with custom detectors. Tests
// inject fakes here.
func NewManagerWithDetectors(eventBus *bus.Bus, detectors []Detector) *Manager {
	return &Manager{
		bus:        eventBus,
		detectors:  detectors,
		catalog:    CatalogByID(),
		usageCache: make(map[models.Provider]usageEntry),
	}
}

// Refresh probes every provider and returns a frozen snapshot. Within the
// 5-minute TTL the cached snapshot is returned unless force is set.
// Probe failures degrade to unknown; Refresh never returns a probe error.
func (m *Manager) Refresh(ctx context.Context, force bool) models.QuotaSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force && m.snapshot != nil && time.Since(m.refreshedAt) < snapshotTTL {
		return m.copySnapshotLocked()
	}

	previous := m.snapshot
	fresh := make(models.QuotaSnapshot, len(m.detectors))

	for _, d := range m.detectors {
		fresh[d.Provider()] = m.detect(ctx, d, force)
	}

	m.snapshot = fresh
	m.refreshedAt = time.Now()

	if m.bus != nil && snapshotChanged(previous, fresh) {
		m.bus.Emit(bus.QuotaUpdate{Snapshot: m.copySnapshotLocked()})
		for provider, q := range fresh {
			prev, had := previous[provider]
			degraded := q.Status == models.QuotaLimited || q.Status == models.QuotaExhausted
			if degraded && (!had || prev.Status != q.Status) {
				m.bus.Emit(bus.QuotaWarning{Quota: q})
			}
		}
	}

	return m.copySnapshotLocked()
}

// detect runs one provider's identifier check and probe, consulting the
// 30-second usage cache for the probe result.
func (m *Manager) detect(ctx context.Context, d Detector, force bool) models.Quota {
	provider := d.Provider()
	hasID := d.HasIdentifier()

	quota := models.Quota{Provider: provider}

	if !hasID {
		quota.Status = models.QuotaUnavailable
		quota.Details = "no credential source found"
		return quota
	}

	utilization, resetAt, details, err := m.probeCached(ctx, d, force)
	quota.Status = statusFromProbe(true, utilization, err)
	quota.ResetAt = resetAt
	quota.Details = details
	if err != nil {
		quota.Details = fmt.Sprintf("probe failed: %v", err)
	}
	if utilization >= 0 && err == nil {
		quota.Remaining = 1 - utilization
		if quota.Remaining < 0 {
			quota.Remaining = 0
		}
	}
	return quota
}

func (m *Manager) probeCached(ctx context.Context, d Detector, force bool) (float64, *time.Time, string, error) {
	provider := d.Provider()

	m.usageMu.Lock()
	entry, ok := m.usageCache[provider]
	m.usageMu.Unlock()

	if ok && !force && time.Since(entry.at) < usageTTL {
		return entry.utilization, entry.resetAt, entry.details, entry.err
	}

	utilization, resetAt, details, err := d.Probe(ctx)

	m.usageMu.Lock()
	m.usageCache[provider] = usageEntry{
		utilization: utilization,
		resetAt:     resetAt,
		details:     details,
		err:         err,
		at:          time.Now(),
	}
	m.usageMu.Unlock()

	return utilization, resetAt, details, err
}

// Snapshot returns the current snapshot without probing, refreshing first
// if none exists yet.
func (m *Manager) Snapshot(ctx context.Context) models.QuotaSnapshot {
	m.mu.Lock()
	cached := m.snapshot != nil
	m.mu.Unlock()

	if !cached {
		return m.Refresh(ctx, false)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copySnapshotLocked()
}

func (m *Manager) copySnapshotLocked() models.QuotaSnapshot {
	out := make(models.QuotaSnapshot, len(m.snapshot))
	for k, v := range m.snapshot {
		out[k] = v
	}
	return out
}

func snapshotChanged(a, b models.QuotaSnapshot) bool {
	if len(a) != len(b) {
		return true
	}
	for k, v := range b {
		prev, ok := a[k]
		if !ok || prev.Status != v.Status || prev.Remaining != v.Remaining {
			return true
		}
	}
	return false
}

// GetModelInfo returns the catalog entry for a model id.
func (m *Manager) GetModelInfo(id string) (models.Model, bool) {
	model, ok := m.catalog[id]
	return model, ok
}

// ModelsByCapability returns every catalog model carrying the capability.
func (m *Manager) ModelsByCapability(c models.Capability) []models.Model {
	var out []models.Model
	for _, model := range Catalog() {
		if model.HasCapability(c) {
			out = append(out, model)
		}
	}
	return out
}

// EstimateCost computes USD cost for a model and token counts.
// Unknown models cost zero.
func (m *Manager) EstimateCost(modelID string, inputTokens, outputTokens int) float64 {
	model, ok := m.catalog[modelID]
	if !ok {
		return 0
	}
	return model.Cost(inputTokens, outputTokens)
}
