package calendar

import (
	"context"
	"errors"
	"fmt"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"rakuraku-calendar/lib/timezone"
	"strings"
	"sync"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fetch struct {
	start time.Time
	end   time.Time
}

type fakeSource struct {
	mutex   sync.Mutex
	batches [][]rakuraku.Event
	err     error
	fetches []fetch
}

func (s *fakeSource) GetEvents(ctx context.Context, start, end time.Time) ([]rakuraku.Event, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.fetches = append(s.fetches, fetch{start: start, end: end})
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, timezone.Location)
}

func event(uid string, date time.Time) rakuraku.Event {
	return rakuraku.Event{
		Start:    date,
		End:      date,
		Summary:  "item " + uid,
		Location: "Kondate Kit",
		Uid:      uid,
	}
}

func uids(events []rakuraku.Event) []string {
	var out []string
	for _, e := range events {
		out = append(out, e.Uid)
	}
	return out
}

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

func TestEntityId(t *testing.T) {
	testCases := []struct {
		title    string
		expected string
	}{
		{title: "jane.doe-01@example.com", expected: "calendar.jane_doe_01"},
		{title: "Home Kitchen", expected: "calendar.home_kitchen"},
		{title: "A.B@c@d", expected: "calendar.a_b"},
		{title: "@example.com", expected: "calendar."},
		{title: "", expected: "calendar."},
	}
	for _, test := range testCases {
		require.Equal(t, test.expected, EntityId(test.title), test.title)
	}
}

func TestNewEntity(t *testing.T) {
	entity := NewEntity("jane.doe-01@example.com", &fakeSource{})
	require.Equal(t, "jane.doe-01@example.com", entity.Name())
	require.Equal(t, "calendar.jane_doe_01", entity.Id())

	_, ok := entity.CurrentEvent()
	require.False(t, ok)
	require.Nil(t, entity.Events())
}

func TestGetEventsMerges(t *testing.T) {
	source := &fakeSource{batches: [][]rakuraku.Event{
		{event("b", day(time.January, 17)), event("a", day(time.January, 15))},
		{event("c", day(time.January, 16)), event("a", day(time.January, 20))},
	}}
	entity := NewEntity("jane", source, fixedClock(day(time.January, 15)))

	batch, err := entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, uids(batch))
	require.Equal(t, []string{"a", "b"}, uids(entity.Events()))

	batch, err = entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.NoError(t, err)
	// only the fetched batch is returned, not the merged cache
	require.Equal(t, []string{"c", "a"}, uids(batch))

	// the cached "a" wins over the one fetched later
	events := entity.Events()
	require.Equal(t, []string{"a", "c", "b"}, uids(events))
	require.True(t, events[0].Start.Equal(day(time.January, 15)))

	current, ok := entity.CurrentEvent()
	require.True(t, ok)
	require.Equal(t, "a", current.Uid)
}

func TestGetEventsIdempotent(t *testing.T) {
	batch := []rakuraku.Event{
		event("x", day(time.February, 2)),
		event("y", day(time.February, 1)),
		event("z", day(time.February, 1)),
	}
	source := &fakeSource{batches: [][]rakuraku.Event{batch, batch, batch}}
	entity := NewEntity("jane", source, fixedClock(day(time.February, 1)))

	_, err := entity.GetEvents(context.Background(), day(time.February, 1), day(time.February, 8))
	require.NoError(t, err)
	first := entity.Events()

	for i := 0; i < 2; i++ {
		_, err := entity.GetEvents(context.Background(), day(time.February, 1), day(time.February, 8))
		require.NoError(t, err)
		diff := cmp.Diff(first, entity.Events())
		require.Empty(t, diff)
	}
	// stable sort keeps y before z on the same day
	require.Equal(t, []string{"y", "z", "x"}, uids(first))
}

func TestGetEventsSortedAndUnique(t *testing.T) {
	var batches [][]rakuraku.Event
	for i := 0; i < 5; i++ {
		var batch []rakuraku.Event
		for j := 0; j < 10; j++ {
			uid := fmt.Sprintf("item-%d", (i*7+j*3)%13)
			batch = append(batch, event(uid, day(time.March, 1+(i*j)%20)))
		}
		batches = append(batches, batch)
	}
	source := &fakeSource{batches: batches}
	entity := NewEntity("jane", source, fixedClock(day(time.March, 1)))

	for range batches {
		_, err := entity.GetEvents(context.Background(), day(time.March, 1), day(time.March, 31))
		require.NoError(t, err)

		events := entity.Events()
		seen := map[string]bool{}
		for i, e := range events {
			require.False(t, seen[e.Uid], "duplicate uid %s", e.Uid)
			seen[e.Uid] = true
			if i > 0 {
				require.False(t, e.Start.Before(events[i-1].Start), "events out of order at %d", i)
			}
		}
	}
}

func TestGetEventsPrunesPast(t *testing.T) {
	now := day(time.January, 15)
	source := &fakeSource{batches: [][]rakuraku.Event{
		{event("old", day(time.January, 14)), event("today", day(time.January, 15))},
		{event("later", day(time.January, 18))},
	}}
	entity := NewEntity("jane", source, WithClock(func() time.Time { return now }))

	batch, err := entity.GetEvents(context.Background(), day(time.January, 10), day(time.January, 20))
	require.NoError(t, err)
	// fetched events are returned even if they are not kept
	require.Equal(t, []string{"old", "today"}, uids(batch))
	require.Equal(t, []string{"today"}, uids(entity.Events()))

	now = time.Date(2024, time.January, 16, 8, 0, 0, 0, timezone.Location)
	_, err = entity.GetEvents(context.Background(), day(time.January, 16), day(time.January, 20))
	require.NoError(t, err)
	require.Equal(t, []string{"later"}, uids(entity.Events()))
}

func TestGetEventsEmpty(t *testing.T) {
	source := &fakeSource{}
	entity := NewEntity("jane", source)

	batch, err := entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.NoError(t, err)
	require.Empty(t, batch)
	require.Nil(t, entity.Events())

	_, ok := entity.CurrentEvent()
	require.False(t, ok)
}

func TestGetEventsFailureKeepsCache(t *testing.T) {
	source := &fakeSource{batches: [][]rakuraku.Event{
		{event("a", day(time.January, 15))},
	}}
	entity := NewEntity("jane", source, fixedClock(day(time.January, 15)))

	_, err := entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.NoError(t, err)

	source.err = fmt.Errorf("%w: %w after re-authentication", rakuraku.ErrInvalidAuth, rakuraku.ErrSessionExpired)
	batch, err := entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.ErrorIs(t, err, rakuraku.ErrInvalidAuth)
	require.Nil(t, batch)
	require.Equal(t, []string{"a"}, uids(entity.Events()))
}

func TestGetEventsTruncatesRange(t *testing.T) {
	source := &fakeSource{}
	entity := NewEntity("jane", source)

	start := time.Date(2024, time.January, 15, 23, 59, 0, 0, timezone.Location)
	// 2024-01-21 16:00 UTC is already the 22nd in Tokyo
	end := time.Date(2024, time.January, 21, 16, 0, 0, 0, time.UTC)
	_, err := entity.GetEvents(context.Background(), start, end)
	require.NoError(t, err)

	require.Len(t, source.fetches, 1)
	require.True(t, source.fetches[0].start.Equal(day(time.January, 15)))
	require.True(t, source.fetches[0].end.Equal(day(time.January, 22)))
}

func TestEventsReturnsCopy(t *testing.T) {
	source := &fakeSource{batches: [][]rakuraku.Event{
		{event("a", day(time.January, 15))},
	}}
	entity := NewEntity("jane", source, fixedClock(day(time.January, 15)))
	_, err := entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.NoError(t, err)

	events := entity.Events()
	events[0].Uid = "mutated"
	require.Equal(t, []string{"a"}, uids(entity.Events()))
}

func TestICS(t *testing.T) {
	recipe := event("https://img.example.com/a.jpg", day(time.January, 15))
	recipe.Description = "https://recipe.example.com/a"
	plain := event("https://img.example.com/b.jpg", day(time.January, 16))

	source := &fakeSource{batches: [][]rakuraku.Event{{plain, recipe}}}
	entity := NewEntity("jane.doe-01@example.com", source, fixedClock(day(time.January, 15)))
	_, err := entity.GetEvents(context.Background(), day(time.January, 15), day(time.January, 22))
	require.NoError(t, err)

	var out strings.Builder
	require.NoError(t, entity.WriteICS(&out))
	require.Contains(t, out.String(), "BEGIN:VCALENDAR")

	cal, err := ics.ParseCalendar(strings.NewReader(out.String()))
	require.NoError(t, err)

	events := cal.Events()
	require.Len(t, events, 2)

	first := events[0]
	require.Equal(t, recipe.Uid, first.Id())
	require.Equal(t, "20240115", first.GetProperty(ics.ComponentPropertyDtStart).Value)
	require.Equal(t, "20240116", first.GetProperty(ics.ComponentPropertyDtEnd).Value)
	require.Equal(t, "item "+recipe.Uid, first.GetProperty(ics.ComponentPropertySummary).Value)
	require.Equal(t, "Kondate Kit", first.GetProperty(ics.ComponentPropertyLocation).Value)
	require.Equal(t, recipe.Description, first.GetProperty(ics.ComponentPropertyUrl).Value)

	second := events[1]
	require.Equal(t, plain.Uid, second.Id())
	require.Equal(t, "20240116", second.GetProperty(ics.ComponentPropertyDtStart).Value)
	require.Nil(t, second.GetProperty(ics.ComponentPropertyDescription))
	require.Nil(t, second.GetProperty(ics.ComponentPropertyUrl))
}

func TestICSEmpty(t *testing.T) {
	entity := NewEntity("jane", &fakeSource{})
	cal, err := ics.ParseCalendar(strings.NewReader(entity.ICS()))
	require.NoError(t, err)
	require.Empty(t, cal.Events())
}

func TestEntityConcurrentAccess(t *testing.T) {
	source := &fakeSource{}
	for i := 0; i < 20; i++ {
		source.batches = append(source.batches, []rakuraku.Event{
			event(fmt.Sprint(i), day(time.April, 1+i%10)),
		})
	}
	entity := NewEntity("jane", source, fixedClock(day(time.April, 1)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := entity.GetEvents(context.Background(), day(time.April, 1), day(time.April, 15))
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			entity.CurrentEvent()
			entity.ICS()
		}()
	}
	wg.Wait()
	require.Len(t, entity.Events(), 20)
}
