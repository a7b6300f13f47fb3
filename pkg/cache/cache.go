package cache

import (
	"context"
	"sync"
	"time"

	"github.com/peakmsg/inapp-engine/pkg/campaign"
	"github.com/sirupsen/logrus"
)

// CampaignCache is the thread-safe, ordered campaign repository. The
// server list is authoritative for campaign definitions and order; the
// cache is authoritative for local consumption state (impressions left,
// opt-out, last display time), carried over by campaign id on sync.
//
// A single coarse mutex guards the list. Persistence happens after the
// lock is released, using a snapshot captured while it was held, so no
// I/O ever runs under the lock.
type CampaignCache struct {
	mu             sync.Mutex
	campaigns      []*campaign.Campaign
	lastSyncMillis int64
	userKey        string

	store Store
}

// New creates an empty cache backed by the given store.
func New(store Store) *CampaignCache {
	return &CampaignCache{store: store}
}

// Hydrate loads persisted campaign state for the given user key,
// falling back to the previous-user sentinel entry so state survives
// login/logout transitions. Replaces the current content.
func (c *CampaignCache) Hydrate(ctx context.Context, userKey string) error {
	campaigns, err := c.store.Load(ctx, userKey)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 && userKey != PreviousUserKey {
		campaigns, err = c.store.Load(ctx, PreviousUserKey)
		if err != nil {
			return err
		}
		if len(campaigns) > 0 {
			logrus.Infof("migrated %d campaigns from previous user state", len(campaigns))
		}
	}

	c.mu.Lock()
	c.userKey = userKey
	c.campaigns = campaigns
	c.mu.Unlock()

	logrus.Infof("campaign cache hydrated with %d campaigns", len(campaigns))
	return nil
}

// List returns a snapshot of the campaign list in display-priority
// order. Callers never observe partial mutation; campaign values are
// copies.
func (c *CampaignCache) List() []*campaign.Campaign {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastSyncMillis returns the server timestamp of the last successful sync.
func (c *CampaignCache) LastSyncMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncMillis
}

// SyncWith reconciles the cache with the authoritative server list.
//
// For campaigns present locally, opt-out and last-display state carry
// over, and the remaining impression budget is adjusted by the change
// in maxImpressions (clamped at zero) so a server-side quota edit
// neither resets nor loses consumed impressions. Campaigns missing
// from the server list are dropped. Test campaigns are never part of
// the server merge; they are re-appended verbatim and excluded from
// persistence.
func (c *CampaignCache) SyncWith(serverList []campaign.Data, timestampMillis int64) {
	c.mu.Lock()

	existing := make(map[string]*campaign.Campaign, len(c.campaigns))
	var testCampaigns []*campaign.Campaign
	for _, old := range c.campaigns {
		if old.Data.IsTest {
			testCampaigns = append(testCampaigns, old)
			continue
		}
		existing[old.ID()] = old
	}

	merged := make([]*campaign.Campaign, 0, len(serverList)+len(testCampaigns))
	for _, data := range serverList {
		updated := campaign.New(data)
		if old, ok := existing[data.CampaignID]; ok {
			updated.IsOptedOut = old.IsOptedOut
			updated.LastDisplayedAtMs = old.LastDisplayedAtMs
			left := old.ImpressionsLeft + (data.MaxImpressions - old.Data.MaxImpressions)
			if left < 0 {
				left = 0
			}
			updated.ImpressionsLeft = left
		}
		merged = append(merged, updated)
	}
	merged = append(merged, testCampaigns...)

	c.campaigns = merged
	c.lastSyncMillis = timestampMillis
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	logrus.Infof("campaign cache synced: %d campaigns (%d test), timestamp=%d",
		len(merged), len(testCampaigns), timestampMillis)
	c.persist(snapshot)
}

// AddTestCampaign registers a test campaign. Test campaigns bypass
// the server merge and never reach persistence. Re-registering an id
// replaces the existing entry (latest definition wins) so a campaign
// is never listed twice.
func (c *CampaignCache) AddTestCampaign(data campaign.Data) {
	data.IsTest = true
	updated := campaign.New(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.campaigns {
		if existing.ID() == updated.ID() {
			c.campaigns[i] = updated
			return
		}
	}
	c.campaigns = append(c.campaigns, updated)
}

// OptOutCampaign marks the campaign opted out. Unknown ids are logged
// and return nil; the operation never fails the caller. Idempotent.
func (c *CampaignCache) OptOutCampaign(id string) *campaign.Campaign {
	return c.mutate(id, "opt-out", func(target *campaign.Campaign) {
		target.IsOptedOut = true
	})
}

// DecrementImpressionsLeft atomically consumes one impression,
// flooring at zero. Returns the updated campaign copy, nil when the
// id is unknown.
func (c *CampaignCache) DecrementImpressionsLeft(id string) *campaign.Campaign {
	return c.mutate(id, "decrement", func(target *campaign.Campaign) {
		if target.ImpressionsLeft > 0 {
			target.ImpressionsLeft--
		}
	})
}

// IncrementImpressionsLeft atomically returns one impression to the
// budget. No ceiling is enforced here; eligibility decisions belong
// to the validator.
func (c *CampaignCache) IncrementImpressionsLeft(id string) *campaign.Campaign {
	return c.mutate(id, "increment", func(target *campaign.Campaign) {
		target.ImpressionsLeft++
	})
}

// MarkDisplayed records the display time used by the
// interval-between-displays eligibility gate.
func (c *CampaignCache) MarkDisplayed(id string) *campaign.Campaign {
	now := time.Now().UnixMilli()
	return c.mutate(id, "mark displayed", func(target *campaign.Campaign) {
		target.LastDisplayedAtMs = now
	})
}

// mutate applies fn to the campaign with the given id under the lock,
// then persists a snapshot outside it.
func (c *CampaignCache) mutate(id, op string, fn func(*campaign.Campaign)) *campaign.Campaign {
	c.mu.Lock()
	var result *campaign.Campaign
	for _, target := range c.campaigns {
		if target.ID() == id {
			fn(target)
			result = target.Copy()
			break
		}
	}
	var snapshot []*campaign.Campaign
	if result != nil {
		snapshot = c.snapshotLocked()
	}
	c.mu.Unlock()

	if result == nil {
		logrus.Warnf("campaign cache: %s requested for unknown campaign %q", op, id)
		return nil
	}
	c.persist(snapshot)
	return result
}

// snapshotLocked copies the list. Caller must hold the mutex.
func (c *CampaignCache) snapshotLocked() []*campaign.Campaign {
	out := make([]*campaign.Campaign, len(c.campaigns))
	for i, target := range c.campaigns {
		out[i] = target.Copy()
	}
	return out
}

// persist writes the snapshot (minus test campaigns) to the store.
// Errors are logged, never surfaced: losing a persistence write only
// costs local state on the next cold start.
func (c *CampaignCache) persist(snapshot []*campaign.Campaign) {
	if c.store == nil {
		return
	}

	persisted := make([]*campaign.Campaign, 0, len(snapshot))
	for _, target := range snapshot {
		if target.Data.IsTest {
			continue
		}
		persisted = append(persisted, target)
	}

	c.mu.Lock()
	userKey := c.userKey
	c.mu.Unlock()
	if userKey == "" {
		userKey = PreviousUserKey
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.Save(ctx, userKey, persisted); err != nil {
		logrus.Errorf("failed to persist campaign cache for key %q: %v", userKey, err)
		return
	}
	// Keep the sentinel copy current so the next account sees this state.
	if userKey != PreviousUserKey {
		if err := c.store.Save(ctx, PreviousUserKey, persisted); err != nil {
			logrus.Errorf("failed to persist previous-user campaign state: %v", err)
		}
	}
}
