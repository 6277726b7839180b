package calendar

import (
	"io"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"strings"

	ics "github.com/arran4/golang-ical"
)

const productId = "-//rakuraku-calendar//menu deliveries//EN"

// NewCalendar renders events as all-day VEVENTs, DTEND is the day after the
// delivery since it is exclusive.
func NewCalendar(name string, events []rakuraku.Event) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productId)
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone("Asia/Tokyo")

	for _, event := range events {
		vevent := cal.AddEvent(event.Uid)
		vevent.SetAllDayStartAt(event.Start)
		vevent.SetAllDayEndAt(event.End.AddDate(0, 0, 1))
		vevent.SetSummary(event.Summary)
		if event.Location != "" {
			vevent.SetLocation(event.Location)
		}
		if event.Description != "" {
			vevent.SetDescription(event.Description)
			if strings.HasPrefix(event.Description, "http") {
				vevent.SetURL(event.Description)
			}
		}
	}
	return cal
}

// ICS returns the cached events as an iCalendar document.
func (e *Entity) ICS() string {
	return NewCalendar(e.name, e.Events()).Serialize()
}

func (e *Entity) WriteICS(w io.Writer) error {
	_, err := io.WriteString(w, e.ICS())
	return err
}
