package session

import (
	"context"
	"errors"
	"log"

	"golang.org/x/sync/errgroup"

	"tunet/internal/domain"
	"tunet/internal/scrape"
	"tunet/internal/transport"
)

// Refresh signs in to the portal on a fresh handle, fetches the profile and
// online devices reports, and applies them. State is only touched when both
// reports were fetched and parsed; on any failure it is left as it was.
// Concurrent calls run one after another.
func (s *Session) Refresh(ctx context.Context) (ReconcileResult, error) {
	if err := acquire(ctx, s.refreshing); err != nil {
		return ReconcileResult{}, err
	}
	defer func() { <-s.refreshing }()

	h, err := transport.New(s.httpOpts)
	if err != nil {
		return ReconcileResult{}, &Error{Kind: KindConnect, Err: err}
	}

	profile, snapshots, err := s.fetchReports(ctx, h)
	if err == nil {
		// Cancelled after the last request but before anything was applied
		err = ctx.Err()
	}
	if err != nil {
		h.Release()
		return ReconcileResult{}, err
	}

	result := s.apply(profile, snapshots, h)
	if !result.Empty() {
		log.Printf("Reconciled devices: %d added, %d updated, %d retired",
			len(result.Added), len(result.Updated), len(result.Retired))
	}
	return result, nil
}

func (s *Session) fetchReports(ctx context.Context, h *transport.Handle) (scrape.Profile, []domain.DeviceSnapshot, error) {
	if err := s.signInSecondary(ctx, h); err != nil {
		return scrape.Profile{}, nil, err
	}

	var profileBody, devicesBody string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body, err := h.Get(gctx, s.endpoints.Profile)
		if err != nil {
			return failure(gctx, err)
		}
		profileBody = body
		return nil
	})
	g.Go(func() error {
		body, err := h.Get(gctx, s.endpoints.Devices)
		if err != nil {
			return failure(gctx, err)
		}
		devicesBody = body
		return nil
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return scrape.Profile{}, nil, ctxErr
		}
		return scrape.Profile{}, nil, err
	}

	profile, err := s.grammar.ParseProfile(profileBody)
	if err != nil {
		return scrape.Profile{}, nil, dataFormatError(err, profileBody)
	}
	snapshots, err := s.grammar.ParseDeviceRows(devicesBody)
	if err != nil {
		return scrape.Profile{}, nil, dataFormatError(err, devicesBody)
	}
	return profile, snapshots, nil
}

func dataFormatError(err error, body string) error {
	var fe *scrape.FormatError
	if errors.As(err, &fe) {
		body = fe.Body
	}
	return &Error{Kind: KindDataFormat, Body: body, Err: err}
}

// apply writes a successful refresh into the session and publishes the
// resulting events. h becomes the session's handle, or is released when no
// device is left to use it.
func (s *Session) apply(profile scrape.Profile, snapshots []domain.DeviceSnapshot, h *transport.Handle) ReconcileResult {
	var events []Event

	s.mu.Lock()
	previous := s.handle

	if !s.balance.Equal(profile.Balance) {
		events = append(events, Event{Field: FieldBalance, Value: profile.Balance})
	}
	s.balance = profile.Balance

	if s.webTraffic != profile.Traffic {
		events = append(events, Event{Field: FieldWebTraffic, Value: profile.Traffic})
	}
	s.webTraffic = profile.Traffic

	result := s.reconcileLocked(snapshots, h)
	events = append(events, result.events()...)

	empty := len(s.devices) == 0
	if empty {
		s.handle = nil
	} else {
		s.handle = h
	}

	s.updateTime = s.now()
	events = append(events,
		Event{Field: FieldUpdateTime, Value: s.updateTime},
		Event{Field: FieldExactTraffic, Value: s.exactTrafficLocked()},
	)
	s.mu.Unlock()

	if previous != nil && previous != h {
		previous.Release()
	}
	if empty {
		h.Release()
	}

	s.notifier.publish(events...)
	return result
}
