package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// listeners is a registration list for one signal. Handlers run in
// registration order, once per emitted event.
type listeners[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
	order    []int
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[int]func(T))
	}
	id := l.nextID
	l.nextID++
	l.handlers[id] = fn
	l.order = append(l.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.handlers[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

type EngineOptions struct {
	IntervalMinutes int
	WindowDays      int
	Now             func() time.Time
	Logger          *log.Logger
}

// SyncEngine owns the session, fetcher, parser and scheduler and publishes
// each cycle's records to registered listeners.
type SyncEngine struct {
	session   *AuthSession
	fetcher   EventFetcher
	parser    *EventParser
	scheduler *SyncScheduler
	logger    *log.Logger

	intervalMinutes int
	window          time.Duration
	now             func() time.Time

	authenticated listeners[struct{}]
	synced        listeners[[]AppointmentRecord]

	mu       sync.Mutex
	lastSync time.Time
	lastErr  error
}

func NewSyncEngine(session *AuthSession, fetcher EventFetcher, opts EngineOptions) *SyncEngine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.IntervalMinutes <= 0 {
		opts.IntervalMinutes = defaultInterval
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = defaultWindowDays
	}

	e := &SyncEngine{
		session:         session,
		fetcher:         fetcher,
		parser:          NewEventParser(opts.Now),
		logger:          opts.Logger,
		intervalMinutes: opts.IntervalMinutes,
		window:          time.Duration(opts.WindowDays) * 24 * time.Hour,
		now:             opts.Now,
	}
	e.scheduler = NewSyncScheduler(e.cycle, opts.Logger)

	session.onAuthenticated = func() {
		e.logger.Info("Calendar connected")
		e.authenticated.emit(struct{}{})
	}
	session.onCleared = e.scheduler.Stop
	return e
}

func (e *SyncEngine) OnAuthenticated(fn func()) (unsubscribe func()) {
	return e.authenticated.add(func(struct{}) { fn() })
}

func (e *SyncEngine) OnEventsSynced(fn func([]AppointmentRecord)) (unsubscribe func()) {
	return e.synced.add(fn)
}

func (e *SyncEngine) Authenticate(token string) error {
	return e.session.SetCredential(token)
}

// IsAuthenticated asks the fetcher when it knows its own credential, and the
// session otherwise.
func (e *SyncEngine) IsAuthenticated() bool {
	if c, ok := e.fetcher.(credentialChecker); ok {
		return c.Authenticated()
	}
	return e.session.IsAuthenticated()
}

// Disconnect clears the credential, which also stops the schedule.
func (e *SyncEngine) Disconnect() error {
	return e.session.Clear()
}

// Start runs one immediate cycle and then arms the schedule. A failed
// initial cycle is logged and does not prevent the schedule from starting.
func (e *SyncEngine) Start(ctx context.Context) error {
	if _, err := e.scheduler.TriggerOnce(ctx); err != nil {
		e.logger.Error("Initial sync failed", "err", err)
	}
	return e.scheduler.Start(e.intervalMinutes)
}

func (e *SyncEngine) Stop() {
	e.scheduler.Stop()
}

// Shutdown stops the schedule and waits for a scheduled cycle in flight.
func (e *SyncEngine) Shutdown(ctx context.Context) error {
	return e.scheduler.Shutdown(ctx)
}

func (e *SyncEngine) SyncNow(ctx context.Context) ([]AppointmentRecord, error) {
	return e.scheduler.TriggerOnce(ctx)
}

func (e *SyncEngine) Scheduler() *SyncScheduler {
	return e.scheduler
}

type EngineStatus struct {
	Authenticated   bool      `json:"authenticated"`
	Scheduled       bool      `json:"scheduled"`
	IntervalMinutes int       `json:"intervalMinutes"`
	LastSync        time.Time `json:"lastSync,omitempty"`
	LastError       string    `json:"lastError,omitempty"`
}

func (e *SyncEngine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := EngineStatus{
		Authenticated:   e.IsAuthenticated(),
		Scheduled:       e.scheduler.Running(),
		IntervalMinutes: int(e.scheduler.Interval() / time.Minute),
		LastSync:        e.lastSync,
	}
	if e.lastErr != nil {
		status.LastError = e.lastErr.Error()
	}
	return status
}

// cycle is one fetch, parse and publish pass over [now, now+window).
func (e *SyncEngine) cycle(ctx context.Context) ([]AppointmentRecord, error) {
	logger := e.logger.With("cycle", uuid.NewString())
	start := e.now()
	end := start.Add(e.window)

	logger.Info("Retrieving events", "from", start.Format(time.RFC3339), "to", end.Format(time.RFC3339))
	events, err := e.fetcher.Fetch(ctx, start, end)
	if err != nil {
		e.recordResult(err)
		return nil, fmt.Errorf("sync cycle failed: %w", err)
	}

	records := e.parser.ParseAll(events)
	for _, r := range records {
		logger.Debug("Parsed event", "id", r.ID, "client", r.ClientName, "pet", r.PetName, "date", r.AppointmentDate)
	}
	e.recordResult(nil)

	logger.Info("Events synced", "count", len(records))
	e.synced.emit(records)
	return records, nil
}

func (e *SyncEngine) recordResult(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	if err == nil {
		e.lastSync = e.now()
	}
}
