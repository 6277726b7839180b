package rakuraku

import "time"

// Item is a single menu item delivered on a given day.
type Item struct {
	Date time.Time
	// Image is the url of the item's picture, the portal exposes no item id so
	// this is used as the unique key.
	Image       string
	RecipeUrl   string
	Course      string
	Name        string
	Description string
}

// Event is an all-day calendar event for a delivered item.
type Event struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Uid         string    `json:"uid"`
}

func (i Item) Event() Event {
	return Event{
		Start:       i.Date,
		End:         i.Date,
		Summary:     i.Name,
		Description: i.RecipeUrl,
		Location:    i.Course,
		Uid:         i.Image,
	}
}
