package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/trunkwatch/internal/supervisor"
	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Submitter queues supervisor commands. The coordinator implements it.
type Submitter interface {
	Submit(cmd supervisor.Command) error
}

// Validate checks a cron expression. Seconds are optional; descriptors such as
// "@daily" and "@every 6h" are accepted.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

type entry struct {
	id   cron.EntryID
	expr string
	cmd  supervisor.Command
}

// Scheduler submits supervisor commands on cron schedules, e.g. a nightly
// decoder restart.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	sub     Submitter
	log     *slog.Logger
	entries map[string]entry
	started bool
}

// New creates a scheduler. An empty timeZone means local time.
func New(sub Submitter, timeZone string, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []cron.Option{cron.WithParser(parser)}
	if timeZone != "" {
		loc, err := time.LoadLocation(timeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
		}
		opts = append(opts, cron.WithLocation(loc))
	}
	return &Scheduler{
		cron:    cron.New(opts...),
		sub:     sub,
		log:     log.With("component", "schedule"),
		entries: make(map[string]entry),
	}, nil
}

// Add registers cmd under name. Names are unique.
func (s *Scheduler) Add(name, expr string, cmd supervisor.Command) error {
	if err := Validate(expr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("schedule %q already exists", name)
	}
	id, err := s.cron.AddFunc(expr, func() { s.fire(name, cmd) })
	if err != nil {
		return fmt.Errorf("failed to schedule %q: %w", name, err)
	}
	s.entries[name] = entry{id: id, expr: expr, cmd: cmd}
	s.log.Info("schedule added", "name", name, "schedule", expr, "command", cmd.String())
	return nil
}

func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	return true
}

func (s *Scheduler) fire(name string, cmd supervisor.Command) {
	if err := s.sub.Submit(cmd); err != nil {
		s.log.Error("scheduled command not queued", "name", name, "command", cmd.String(), "error", err)
		return
	}
	s.log.Info("scheduled command queued", "name", name, "command", cmd.String())
}

// Next reports the next activation of name, or the zero time.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop prevents new activations and waits for running ones to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}
