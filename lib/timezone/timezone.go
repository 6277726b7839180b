package timezone

import "time"

// Location is the timezone the delivery portal schedules in.
var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Asia/Tokyo")
	if err != nil {
		panic(err)
	}
}

const (
	// CompactDate is the YYYYMMDD format the portal expects in form fields.
	CompactDate = "20060102"
	// MenuDate is the MM-DD-YYYY format the portal uses for date list keys.
	MenuDate = "01-02-2006"
	// IsoDate is used for query parameters of the http api.
	IsoDate = "2006-01-02"
)

// force timezone to be in Tokyo because deliveries are scheduled by the
// portal's calendar day, not the server's
func Now() time.Time {
	return time.Now().In(Location)
}

// Date truncates t to midnight of its calendar day in Location.
func Date(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// Today returns midnight of the current day in Location.
func Today() time.Time {
	return Date(Now())
}

// DaysBetween returns the number of whole calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	start = Date(start)
	end = Date(end)
	// rounding absorbs the 23/25 hour days of zones with dst, Tokyo has none
	// but callers may pass times from other zones
	return int((end.Sub(start) + 12*time.Hour) / (24 * time.Hour))
}

// ParseMenuDate parses a MM-DD-YYYY date key into a day in Location.
func ParseMenuDate(s string) (time.Time, error) {
	return time.ParseInLocation(MenuDate, s, Location)
}

// ParseIsoDate parses a YYYY-MM-DD date into a day in Location.
func ParseIsoDate(s string) (time.Time, error) {
	return time.ParseInLocation(IsoDate, s, Location)
}
