package rakuraku

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"rakuraku-calendar/lib/htmlutil"
	"rakuraku-calendar/lib/timezone"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// the portal answers any ajax endpoint with {"js_status": ...} once the
// session cookie is no longer valid
const sessionExpiredKey = "js_status"

// dateList is either the list of delivery days or the expired marker, never
// both.
type dateList struct {
	Expired bool
	Days    []time.Time
}

// GetEvents returns one event per item delivered in [start, end), days are in
// the order the portal lists them and items in page order.
//
// If the portal reports an expired session the client logs in again and
// retries the request that reported it once.
func (c *Client) GetEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	ctx, span := tracer.Start(ctx, "client:GetEvents")
	defer span.End()

	start = timezone.Date(start)
	end = timezone.Date(end)
	span.SetAttributes(
		attribute.String("custom.start", start.Format(timezone.CompactDate)),
		attribute.String("custom.end", end.Format(timezone.CompactDate)),
	)

	days, err := c.deliveryDays(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get delivery days")
		return nil, err
	}

	var events []Event
	for _, day := range days {
		items, err := c.dayItems(ctx, day)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get items")
			return nil, err
		}
		for _, item := range items {
			events = append(events, item.Event())
		}
	}

	span.SetAttributes(attribute.Int("custom.event_count", len(events)))
	slog.DebugContext(ctx, "fetched events", "days", len(days), "events", len(events))

	return events, nil
}

func (c *Client) deliveryDays(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	list, err := c.fetchDateList(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if !list.Expired {
		return list.Days, nil
	}

	slog.InfoContext(ctx, "session expired, authenticating again")
	err = c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	list, err = c.fetchDateList(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if list.Expired {
		return nil, fmt.Errorf("%w: %w after re-authentication", ErrInvalidAuth, ErrSessionExpired)
	}
	return list.Days, nil
}

func (c *Client) fetchDateList(ctx context.Context, start, end time.Time) (dateList, error) {
	res, err := c.post(ctx, dateListPath, map[string]string{
		"start_date": start.Format(timezone.CompactDate),
		"end_date":   end.Format(timezone.CompactDate),
		"diff_days":  strconv.Itoa(timezone.DaysBetween(start, end)),
	})
	if err != nil {
		return dateList{}, err
	}
	return parseDateList(res.Body())
}

// dayItems fetches the items of a day, logging in again once if the session
// expired in the middle of a fetch.
func (c *Client) dayItems(ctx context.Context, day time.Time) ([]Item, error) {
	items, err := c.items(ctx, day)
	if !errors.Is(err, ErrSessionExpired) {
		return items, err
	}

	slog.InfoContext(ctx, "session expired while fetching items, authenticating again", "day", day.Format(timezone.CompactDate))
	err = c.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	items, err = c.items(ctx, day)
	if errors.Is(err, ErrSessionExpired) {
		return nil, fmt.Errorf("%w: %w after re-authentication", ErrInvalidAuth, err)
	}
	return items, err
}

func (c *Client) items(ctx context.Context, day time.Time) ([]Item, error) {
	res, err := c.post(ctx, itemListPath, map[string]string{
		"menu_date": day.Format(timezone.CompactDate),
	})
	if err != nil {
		return nil, err
	}

	fragment, err := decodeFragment(res.Body())
	if err != nil {
		return nil, fmt.Errorf("item list %s: %w", day.Format(timezone.CompactDate), err)
	}
	items, err := parseItemList(day, fragment)
	if err != nil {
		return nil, fmt.Errorf("item list %s: %w", day.Format(timezone.CompactDate), err)
	}
	return items, nil
}

// parseDateList reads the date list payload, an object keyed by MM-DD-YYYY,
// while keeping the order the keys appear in.
func parseDateList(body []byte) (dateList, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return dateList{}, fmt.Errorf("%w: date list: %w", ErrParse, err)
	}
	switch tok {
	case json.Delim('{'):
	case json.Delim('['):
		// php encodes an empty associative array as []
		tok, err = dec.Token()
		if err != nil {
			return dateList{}, fmt.Errorf("%w: date list: %w", ErrParse, err)
		}
		if tok != json.Delim(']') {
			return dateList{}, fmt.Errorf("%w: date list: expected an object, got a non-empty array", ErrParse)
		}
		return dateList{}, nil
	default:
		return dateList{}, fmt.Errorf("%w: date list: expected an object, got %v", ErrParse, tok)
	}

	var list dateList
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return dateList{}, fmt.Errorf("%w: date list: %w", ErrParse, err)
		}
		key, ok := tok.(string)
		if !ok {
			return dateList{}, fmt.Errorf("%w: date list: unexpected token %v", ErrParse, tok)
		}
		var value json.RawMessage
		err = dec.Decode(&value)
		if err != nil {
			return dateList{}, fmt.Errorf("%w: date list: value of %q: %w", ErrParse, key, err)
		}

		if key == sessionExpiredKey {
			list.Expired = true
			continue
		}
		day, err := timezone.ParseMenuDate(key)
		if err != nil {
			return dateList{}, fmt.Errorf("%w: date list: key %q: %w", ErrParse, key, err)
		}
		list.Days = append(list.Days, day)
	}
	_, err = dec.Token()
	if err != nil {
		return dateList{}, fmt.Errorf("%w: date list: %w", ErrParse, err)
	}

	if list.Expired {
		list.Days = nil
	}
	return list, nil
}

// decodeFragment unwraps the html fragment the item list endpoint sends as a
// json string, bare html is passed through.
func decodeFragment(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return string(trimmed), nil
	}

	var fragment string
	err := json.Unmarshal(trimmed, &fragment)
	if err == nil {
		return fragment, nil
	}

	var marker map[string]json.RawMessage
	if json.Unmarshal(trimmed, &marker) == nil {
		if _, expired := marker[sessionExpiredKey]; expired {
			return "", ErrSessionExpired
		}
	}
	return "", fmt.Errorf("%w: %w", ErrParse, err)
}

func parseItemList(day time.Time, fragment string) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	var items []Item
	var cardErr error
	doc.Find(".c-itemList").EachWithBreak(func(i int, card *goquery.Selection) bool {
		item, err := parseItemCard(day, card)
		if err != nil {
			cardErr = fmt.Errorf("item card %d: %w", i, err)
			return false
		}
		items = append(items, item)
		return true
	})
	if cardErr != nil {
		return nil, cardErr
	}
	return items, nil
}

var errMissingSelector = errors.New("missing element")

func requireText(card *goquery.Selection, selector string) (string, error) {
	sel := card.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %w %q", ErrParse, errMissingSelector, selector)
	}
	return htmlutil.Text(sel), nil
}

func parseItemCard(day time.Time, card *goquery.Selection) (Item, error) {
	img := card.Find(".contain-img").First()
	if img.Length() == 0 {
		return Item{}, fmt.Errorf("%w: %w %q", ErrParse, errMissingSelector, ".contain-img")
	}
	image, ok := htmlutil.Attr(img, "src")
	if !ok {
		return Item{}, fmt.Errorf("%w: image has no src", ErrParse)
	}
	recipeUrl, _ := htmlutil.Attr(img, "data-recipe_url")

	course, err := requireText(card, ".itemList-course")
	if err != nil {
		return Item{}, err
	}
	name, err := requireText(card, ".itemList-text dt")
	if err != nil {
		return Item{}, err
	}
	description, err := requireText(card, ".itemList-text dd")
	if err != nil {
		return Item{}, err
	}

	return Item{
		Date:        day,
		Image:       image,
		RecipeUrl:   recipeUrl,
		Course:      course,
		Name:        name,
		Description: description,
	}, nil
}
