package trigger

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is a Source that emits a schedule change on a cron spec
type Schedule struct {
	mu    sync.Mutex
	cron  *cron.Cron
	spec  string
	entry cron.EntryID
	emit  func(Change)
}

// NewSchedule validates spec and creates a schedule source
func NewSchedule(spec string) (*Schedule, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Schedule{cron: cron.New(), spec: spec}, nil
}

// Name implements Source
func (s *Schedule) Name() string {
	return "schedule"
}

// Spec returns the active cron spec
func (s *Schedule) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Run implements Source
func (s *Schedule) Run(ctx context.Context, emit func(Change)) error {
	s.mu.Lock()
	s.emit = emit
	if err := s.addLocked(s.spec); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("Refresh schedule started (%s)", s.Spec())

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// Reschedule replaces the cron spec; an invalid spec keeps the old one
func (s *Schedule) Reschedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec {
		return nil
	}
	if s.emit == nil {
		s.spec = spec
		return nil
	}

	s.cron.Remove(s.entry)
	if err := s.addLocked(spec); err != nil {
		return err
	}
	log.Printf("Refresh schedule changed to %s", spec)
	return nil
}

func (s *Schedule) addLocked(spec string) error {
	emit := s.emit
	id, err := s.cron.AddFunc(spec, func() {
		emit(Change{Kind: ChangeSchedule, At: time.Now()})
	})
	if err != nil {
		return fmt.Errorf("add schedule %q: %w", spec, err)
	}
	s.entry = id
	s.spec = spec
	return nil
}
