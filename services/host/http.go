package host

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"rakuraku-calendar/lib/scrapers/rakuraku"
	"rakuraku-calendar/lib/serviceutil"
	"rakuraku-calendar/lib/timezone"
	"time"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJson(w, status, errorBody{Error: kind, Message: err.Error()})
}

// Handler serves the calendars over http, every endpoint but /health requires
// the access token when one is configured.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /calendars", s.handleCalendars)
	mux.HandleFunc("GET /calendars/{id}/events", s.withEntry(s.handleEvents))
	mux.HandleFunc("GET /calendars/{id}/next", s.withEntry(s.handleNext))
	mux.HandleFunc("GET /calendars/{id}/feed.ics", s.withEntry(s.handleFeed))
	return serviceutil.RequireBearerToken(s.config.AccessToken, mux, "/health")
}

func (s *Service) withEntry(handler func(w http.ResponseWriter, r *http.Request, h *hosted)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		h, ok := s.byId[id]
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", errors.New("no calendar with id "+id))
			return
		}
		handler(w, r, h)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Service) handleCalendars(w http.ResponseWriter, r *http.Request) {
	writeJson(w, http.StatusOK, s.Statuses())
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	value := r.URL.Query().Get(name)
	if value == "" {
		return fallback, nil
	}
	date, err := timezone.ParseIsoDate(value)
	if err != nil {
		return time.Time{}, errors.New(name + " must be a YYYY-MM-DD date")
	}
	return date, nil
}

// handleEvents fetches the requested range from the portal and returns only
// what was fetched, the range defaults to the refresh window.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request, h *hosted) {
	defaultStart, defaultEnd := s.Window()
	start, err := parseDateParam(r, "start", defaultStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	end, err := parseDateParam(r, "end", defaultEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("end is before start"))
		return
	}

	events, err := s.fetch(r.Context(), h, start, end)
	switch {
	case errors.Is(err, rakuraku.ErrInvalidAuth):
		writeError(w, http.StatusUnauthorized, "auth_failed", err)
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, "fetch_failed", err)
		return
	}
	if events == nil {
		events = []rakuraku.Event{}
	}
	writeJson(w, http.StatusOK, events)
}

func (s *Service) handleNext(w http.ResponseWriter, r *http.Request, h *hosted) {
	event, ok := h.entity.CurrentEvent()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJson(w, http.StatusOK, event)
}

func (s *Service) handleFeed(w http.ResponseWriter, r *http.Request, h *hosted) {
	w.Header().Set("content-type", "text/calendar; charset=utf-8")
	err := h.entity.WriteICS(w)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to write calendar feed", "entity", h.entity.Id(), "err", err)
	}
}
