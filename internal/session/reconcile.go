package session

import (
	"sort"

	"tunet/internal/domain"
	"tunet/internal/transport"
)

// ReconcileResult lists the identities touched by one reconciliation
type ReconcileResult struct {
	Added   []domain.DeviceKey `json:"added"`
	Updated []domain.DeviceKey `json:"updated"`
	Retired []domain.DeviceKey `json:"retired"`
}

// Empty reports whether nothing was added or retired. Updates alone do not
// count as a change in membership.
func (r ReconcileResult) Empty() bool {
	return len(r.Added) == 0 && len(r.Retired) == 0
}

func (r ReconcileResult) events() []Event {
	events := make([]Event, 0, len(r.Added)+len(r.Updated)+len(r.Retired))
	for _, k := range r.Retired {
		events = append(events, deviceEvent(DeviceRetired, k))
	}
	for _, k := range r.Updated {
		events = append(events, deviceEvent(DeviceUpdated, k))
	}
	for _, k := range r.Added {
		events = append(events, deviceEvent(DeviceAdded, k))
	}
	return events
}

// reconcileLocked merges snapshots into s.devices by (IP, MAC). Devices in
// both are updated in place, new ones are added and missing ones retired.
// Every surviving device ends up on h. Callers hold s.mu.
func (s *Session) reconcileLocked(snapshots []domain.DeviceSnapshot, h *transport.Handle) ReconcileResult {
	var result ReconcileResult
	seen := make(map[domain.DeviceKey]struct{}, len(snapshots))

	for _, snap := range snapshots {
		key := snap.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if d, ok := s.devices[key]; ok {
			d.update(snap, h)
			result.Updated = append(result.Updated, key)
			continue
		}
		s.devices[key] = newDevice(s, snap, h)
		result.Added = append(result.Added, key)
	}

	for key, d := range s.devices {
		if _, ok := seen[key]; ok {
			continue
		}
		d.retire()
		delete(s.devices, key)
		result.Retired = append(result.Retired, key)
	}

	sortKeys(result.Added)
	sortKeys(result.Updated)
	sortKeys(result.Retired)
	return result
}

func sortKeys(keys []domain.DeviceKey) {
	sort.Slice(keys, func(i, j int) bool {
		return keyLess(keys[i], keys[j])
	})
}
