package calendar

import (
	"context"
	"log/slog"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"rakuraku-calendar/lib/telemetry"
	"rakuraku-calendar/lib/timezone"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("services/calendar")

// ScanInterval is how often a host is expected to refresh an entity.
const ScanInterval = 15 * time.Minute

// EventSource is satisfied by *rakuraku.Client.
type EventSource interface {
	GetEvents(ctx context.Context, start, end time.Time) ([]rakuraku.Event, error)
}

var entityIdReplacer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")

// EntityId derives a stable id from the entry title, usually the login email.
// The part before the first "@" is used, or the whole title if it has none.
func EntityId(title string) string {
	name, _, _ := strings.Cut(title, "@")
	return "calendar." + entityIdReplacer.Replace(strings.ToLower(name))
}

type Option func(e *Entity)

// WithClock replaces time.Now for deciding which cached events are in the
// past.
func WithClock(now func() time.Time) Option {
	return func(e *Entity) {
		e.now = now
	}
}

// Entity is a calendar of delivered menu items for one account. It keeps the
// events seen so far sorted by start date and without duplicate uids.
type Entity struct {
	name   string
	id     string
	source EventSource
	now    func() time.Time

	mutex  sync.RWMutex
	events []rakuraku.Event
}

func NewEntity(title string, source EventSource, opts ...Option) *Entity {
	e := &Entity{
		name:   title,
		id:     EntityId(title),
		source: source,
		now:    timezone.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Entity) Name() string {
	return e.name
}

func (e *Entity) Id() string {
	return e.id
}

// GetEvents fetches the events between the days of start and end from the
// source and merges them into the cache. Days are counted in Asia/Tokyo,
// whatever zone start and end are in. Only the fetched events are
// returned. If the fetch fails the cache is left as it was.
func (e *Entity) GetEvents(ctx context.Context, start, end time.Time) ([]rakuraku.Event, error) {
	ctx, span := tracer.Start(ctx, "entity:GetEvents")
	defer span.End()
	span.SetAttributes(attribute.String("custom.entity_id", e.id))

	batch, err := e.source.GetEvents(ctx, timezone.Date(start), timezone.Date(end))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch events")
		slog.WarnContext(ctx, "failed to fetch events, keeping cached events", "entity", e.id, "err", err)
		return nil, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	merged := make([]rakuraku.Event, 0, len(e.events)+len(batch))
	merged = append(merged, e.events...)
	merged = append(merged, batch...)
	merged = dedupe(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})
	merged = prune(merged, timezone.Date(e.now()))

	if len(merged) == 0 {
		merged = nil
	}
	e.events = merged

	span.SetAttributes(
		attribute.Int("custom.fetched", len(batch)),
		attribute.Int("custom.cached", len(merged)),
	)
	slog.DebugContext(ctx, "merged events", "entity", e.id, "fetched", len(batch), "cached", len(merged))

	return batch, nil
}

// CurrentEvent returns the earliest cached event.
func (e *Entity) CurrentEvent() (rakuraku.Event, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if len(e.events) == 0 {
		return rakuraku.Event{}, false
	}
	return e.events[0], true
}

// Events returns a copy of the cached events.
func (e *Entity) Events() []rakuraku.Event {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	if len(e.events) == 0 {
		return nil
	}
	out := make([]rakuraku.Event, len(e.events))
	copy(out, e.events)
	return out
}

// dedupe keeps the first event of every uid.
func dedupe(events []rakuraku.Event) []rakuraku.Event {
	seen := make(map[string]struct{}, len(events))
	out := events[:0]
	for _, event := range events {
		if _, ok := seen[event.Uid]; ok {
			continue
		}
		seen[event.Uid] = struct{}{}
		out = append(out, event)
	}
	return out
}

// prune drops events that ended before today.
func prune(events []rakuraku.Event, today time.Time) []rakuraku.Event {
	out := events[:0]
	for _, event := range events {
		if event.End.Before(today) {
			continue
		}
		out = append(out, event)
	}
	return out
}
