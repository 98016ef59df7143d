package session

import (
	"context"
	"errors"
	"log"

	"tunet/internal/cache"
	"tunet/internal/domain"
)

// SaveCache writes the current state to the cache store. Failures are logged
// and swallowed; only cancellation is returned.
func (s *Session) SaveCache(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	doc := s.cacheDocument()
	if err := s.store.Save(ctx, doc); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Printf("Failed to save session cache: %v", err)
	}
	return nil
}

// LoadCache restores balance, traffic, update time and devices from the
// cache store. A missing or unreadable cache leaves the session as it is.
// Restored devices have no transport handle until the next refresh.
func (s *Session) LoadCache(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	doc, err := s.store.Load(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !errors.Is(err, cache.ErrNotFound) {
			log.Printf("Failed to load session cache: %v", err)
		}
		return nil
	}

	s.restore(doc)
	return nil
}

func (s *Session) cacheDocument() *cache.Document {
	s.mu.RLock()
	doc := &cache.Document{
		Balance:    s.balance,
		UpdateTime: s.updateTime,
		WebTraffic: s.webTraffic,
	}
	s.mu.RUnlock()

	for _, d := range s.Devices() {
		doc.Devices = append(doc.Devices, cache.DeviceRecord{
			IP:         d.key.IP,
			MAC:        d.key.MAC,
			WebTraffic: d.Traffic(),
			LogOnTime:  d.LogOnTime(),
		})
	}
	return doc
}

func (s *Session) restore(doc *cache.Document) {
	snapshots := make([]domain.DeviceSnapshot, 0, len(doc.Devices))
	for _, rec := range doc.Devices {
		snapshots = append(snapshots, domain.DeviceSnapshot{
			IP:        rec.IP,
			MAC:       rec.MAC,
			Traffic:   rec.WebTraffic,
			LogOnTime: rec.LogOnTime,
		})
	}

	s.mu.Lock()
	previous := s.handle
	s.handle = nil

	// Cached devices replace whatever is listed now, none with a handle
	result := s.reconcileLocked(snapshots, nil)

	s.balance = doc.Balance
	s.webTraffic = doc.WebTraffic
	s.updateTime = doc.UpdateTime
	exact := s.exactTrafficLocked()
	s.mu.Unlock()

	previous.Release()

	events := []Event{
		{Field: FieldBalance, Value: doc.Balance},
		{Field: FieldWebTraffic, Value: doc.WebTraffic},
	}
	events = append(events, result.events()...)
	events = append(events,
		Event{Field: FieldUpdateTime, Value: doc.UpdateTime},
		Event{Field: FieldExactTraffic, Value: exact},
	)
	s.notifier.publish(events...)
}
