package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"rakuraku-calendar/lib/telemetry"
	"rakuraku-calendar/lib/timezone"
	"rakuraku-calendar/services/calendar"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("services/host")

// refreshes that take longer than this are abandoned, the next scheduled
// refresh tries again
const refreshTimeout = 5 * time.Minute

// Session is the part of *rakuraku.Client the host uses.
type Session interface {
	calendar.EventSource
	Authenticate(ctx context.Context) error
	Close() error
}

type SessionFactory func(cfg Config, entry Entry) (Session, error)

func newRakurakuSession(cfg Config, entry Entry) (Session, error) {
	return rakuraku.NewClient(cfg.ClientOptions(entry))
}

type Option func(s *Service)

func WithNotifier(notifier Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

func WithSessionFactory(factory SessionFactory) Option {
	return func(s *Service) {
		s.newSession = factory
	}
}

// WithClock replaces timezone.Now for the refresh window and the entities.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// hosted is one configured entry with its session and calendar.
type hosted struct {
	entry   Entry
	session Session
	entity  *calendar.Entity

	mutex       sync.Mutex
	lastRefresh time.Time
	lastErr     error
	// authFailed is set from the first rejected login until the next
	// successful fetch, so that a failure streak notifies only once
	authFailed bool
}

type Status struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	EventCount  int       `json:"event_count"`
	LastRefresh time.Time `json:"last_refresh"`
	LastError   string    `json:"last_error,omitempty"`
	AuthFailed  bool      `json:"auth_failed"`
}

func (h *hosted) status() Status {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	status := Status{
		Id:          h.entity.Id(),
		Name:        h.entity.Name(),
		EventCount:  len(h.entity.Events()),
		LastRefresh: h.lastRefresh,
		AuthFailed:  h.authFailed,
	}
	if h.lastErr != nil {
		status.LastError = h.lastErr.Error()
	}
	return status
}

// Service owns one session client and calendar entity per configured entry and
// keeps the calendars refreshed.
type Service struct {
	config     Config
	notifier   Notifier
	newSession SessionFactory
	now        func() time.Time

	entries []*hosted
	byId    map[string]*hosted

	cron      *cron.Cron
	closeOnce sync.Once
}

func New(cfg Config, opts ...Option) (*Service, error) {
	cfg.Normalize()

	s := &Service{
		config:     cfg,
		newSession: newRakurakuSession,
		now:        timezone.Now,
		byId:       map[string]*hosted{},
	}
	if cfg.Smtp.enabled() {
		s.notifier = EmailNotifier{Smtp: *cfg.Smtp}
	} else {
		s.notifier = LogNotifier{}
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, entry := range cfg.Entries {
		id := calendar.EntityId(entry.Title)
		if _, exists := s.byId[id]; exists {
			s.Close()
			return nil, fmt.Errorf("entry %q: calendar id %s is already used by another entry", entry.Title, id)
		}

		session, err := s.newSession(cfg, entry)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("entry %q: %w", entry.Title, err)
		}
		h := &hosted{
			entry:   entry,
			session: session,
			entity:  calendar.NewEntity(entry.Title, session, calendar.WithClock(s.now)),
		}
		s.entries = append(s.entries, h)
		s.byId[id] = h
	}

	return s, nil
}

func (s *Service) Config() Config {
	return s.config
}

// Statuses reports every entry in configuration order.
func (s *Service) Statuses() []Status {
	out := make([]Status, len(s.entries))
	for i, h := range s.entries {
		out[i] = h.status()
	}
	return out
}

func (s *Service) Entity(id string) (*calendar.Entity, bool) {
	h, ok := s.byId[id]
	if !ok {
		return nil, false
	}
	return h.entity, true
}

// Window returns the default refresh range, today through the horizon.
func (s *Service) Window() (start, end time.Time) {
	start = timezone.Date(s.now())
	return start, start.AddDate(0, 0, s.config.HorizonDays)
}

// Refresh fetches the default window for every entry, one entry's failure
// does not stop the others and leaves its cached events intact.
func (s *Service) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	start, end := s.Window()
	var errs []error
	for _, h := range s.entries {
		refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
		_, err := s.fetch(refreshCtx, h, start, end)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.entity.Id(), err))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "some entries failed to refresh")
		return err
	}
	return nil
}

func (s *Service) fetch(ctx context.Context, h *hosted, start, end time.Time) ([]rakuraku.Event, error) {
	ctx, span := tracer.Start(ctx, "fetch")
	defer span.End()
	span.SetAttributes(attribute.String("custom.entity_id", h.entity.Id()))

	events, err := h.entity.GetEvents(ctx, start, end)

	h.mutex.Lock()
	h.lastRefresh = s.now()
	h.lastErr = err
	notify := false
	if err == nil {
		h.authFailed = false
	} else if errors.Is(err, rakuraku.ErrInvalidAuth) && !h.authFailed {
		h.authFailed = true
		notify = true
	}
	h.mutex.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch events")
		slog.ErrorContext(ctx, "refresh failed", "entity", h.entity.Id(), "err", err)
	}
	if notify {
		nerr := s.notifier.NotifyAuthFailure(ctx, h.entry, err)
		if nerr != nil {
			slog.ErrorContext(ctx, "failed to send auth failure notification", "entity", h.entity.Id(), "err", nerr)
		}
	}
	return events, err
}

// Start refreshes every entry once in the background and then on the
// configured schedule until ctx is done or Close is called.
func (s *Service) Start(ctx context.Context) error {
	logger := cronLogger{}
	cronner := cron.New(
		cron.WithLocation(timezone.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	job := cron.FuncJob(func() {
		// errors are already logged per entry
		_ = s.Refresh(ctx)
	})
	_, err := cronner.AddJob(s.config.Refresh, job)
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", s.config.Refresh, err)
	}
	s.cron = cronner

	cronner.Start()
	go func() {
		_ = s.Refresh(ctx)
	}()
	go func() {
		<-ctx.Done()
		cronner.Stop()
	}()

	slog.InfoContext(ctx, "host started", "entries", len(s.entries), "refresh", s.config.Refresh)
	return nil
}

// Close stops the schedule and closes every session, it is safe to call more
// than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		for _, h := range s.entries {
			err := h.session.Close()
			if err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
