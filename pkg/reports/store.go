// SPDX-License-Identifier: Apache-2.0

package reports

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jllopis/reportcard/pkg/errors"
	"github.com/jllopis/reportcard/pkg/kvstore"
	"github.com/jllopis/reportcard/pkg/telemetry"
)

// DefaultStorageKey is the slot the report list is persisted under.
const DefaultStorageKey = "studentReports"

// Observer receives the full report list after every change.
type Observer func([]Report)

type observer struct {
	id   int
	name string
	fn   Observer
}

// Store is an observable, ordered list of reports. Every change is
// delivered synchronously to all observers, in mutation order. Observers
// must not mutate the store from inside their callback.
type Store struct {
	mu      sync.Mutex
	reports []Report
	obs     []observer
	nextObs int

	// notify serializes mutation plus delivery so observers see changes in order
	notify sync.Mutex

	storage kvstore.Store
	key     string
	logger  *slog.Logger
	ids     *idSource
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the time source used for report ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.ids.now = now
		}
	}
}

// WithStorageTimeout bounds each storage call. Zero means no bound.
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// New loads the persisted reports from storage and registers the persist
// observer. A nil storage means there is nowhere to persist to: the store
// starts with one default report and never touches storage.
func New(storage kvstore.Store, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		key:     DefaultStorageKey,
		logger:  slog.Default(),
		ids:     &idSource{now: time.Now},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = telemetry.Component(s.logger, "reports").With(
		slog.String(telemetry.AttrStorageKey, s.key),
	)

	s.reports = s.load()
	if s.storage != nil {
		s.observe("persist", s.persist)
	}
	return s
}

// NewID returns a report id: the current time in milliseconds, strictly
// increasing within the process.
func (s *Store) NewID() string { return s.ids.next() }

// NewReport returns a default report with a fresh id.
func (s *Store) NewReport() Report { return NewReport(s.NewID()) }

func (s *Store) load() []Report {
	fallback := func() []Report { return []Report{s.NewReport()} }
	if s.storage == nil {
		return fallback()
	}

	ctx, cancel := s.storageContext()
	defer cancel()

	raw, ok, err := s.storage.Get(ctx, s.key)
	if err != nil {
		s.logger.Error("reading stored reports failed", slog.Any("error", err))
		return fallback()
	}
	if !ok {
		return fallback()
	}

	list, err := Normalize([]byte(raw))
	if err != nil {
		corrupt := errors.New(errors.CodeCorrupted, "stored reports are unreadable", err)
		s.logger.Error("discarding stored reports", slog.Any("error", corrupt))
		if err := s.storage.Remove(ctx, s.key); err != nil {
			s.logger.Error("clearing stored reports failed", slog.Any("error", err))
		}
		return fallback()
	}
	s.ids.observe(list)
	for i := range list {
		if list[i].ID == "" {
			list[i].ID = s.NewID()
		}
	}
	return list
}

// persist writes the list, or clears the slot once the list is empty.
func (s *Store) persist(list []Report) {
	ctx, cancel := s.storageContext()
	defer cancel()

	if len(list) == 0 {
		if err := s.storage.Remove(ctx, s.key); err != nil {
			s.logger.Error("clearing stored reports failed", slog.Any("error", err))
		}
		return
	}
	raw, err := json.Marshal(list)
	if err != nil {
		s.logger.Error("encoding reports failed", slog.Any("error", err))
		return
	}
	if err := s.storage.Set(ctx, s.key, string(raw)); err != nil {
		s.logger.Error("saving reports failed", slog.Int(telemetry.AttrReportCount, len(list)), slog.Any("error", err))
		return
	}
	s.logger.Debug("reports saved", slog.Int(telemetry.AttrReportCount, len(list)))
}

func (s *Store) storageContext() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(context.Background(), s.timeout)
	}
	return context.WithCancel(context.Background())
}

// Subscribe calls fn with the current list now and after every change.
// The returned func stops delivery.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	return s.observe("subscriber", fn)
}

func (s *Store) observe(name string, fn Observer) func() {
	s.notify.Lock()
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.obs = append(s.obs, observer{id: id, name: name, fn: fn})
	current := cloneReports(s.reports)
	s.mu.Unlock()
	fn(current)
	s.notify.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.obs {
			if o.id == id {
				s.obs = append(s.obs[:i], s.obs[i+1:]...)
				return
			}
		}
	}
}

// Set replaces the whole list.
func (s *Store) Set(list []Report) {
	s.Update(func([]Report) []Report { return list })
}

// Update replaces the list with fn's result. fn receives a copy.
func (s *Store) Update(fn func([]Report) []Report) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	next := cloneReports(fn(cloneReports(s.reports)))
	if next == nil {
		next = []Report{}
	}
	s.reports = next
	observers := append([]observer(nil), s.obs...)
	s.mu.Unlock()

	for _, o := range observers {
		o.fn(cloneReports(next))
	}
}

// Add appends a new default report and returns it.
func (s *Store) Add() Report {
	r := s.NewReport()
	s.Update(func(list []Report) []Report { return append(list, r) })
	return r
}

// Remove deletes the report with id. It reports whether one was found.
func (s *Store) Remove(id string) bool {
	var removed bool
	s.Update(func(list []Report) []Report {
		out := list[:0]
		for _, r := range list {
			if r.ID == id {
				removed = true
				continue
			}
			out = append(out, r)
		}
		return out
	})
	return removed
}

// Value returns a copy of the current list.
func (s *Store) Value() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneReports(s.reports)
}

// Get returns a copy of the report with id.
func (s *Store) Get(id string) (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return Report{}, false
}

// idSource hands out millisecond timestamps that never repeat.
type idSource struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (g *idSource) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return strconv.FormatInt(ms, 10)
}

// observe moves the sequence past any numeric id already in use.
func (g *idSource) observe(list []Report) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range list {
		if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil && n > g.last {
			g.last = n
		}
	}
}
