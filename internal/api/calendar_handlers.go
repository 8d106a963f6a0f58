package api

import (
	"net/http"
	"net/url"

	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/calendar"
	"gwi.com/calendar-assistant/internal/timeparse"
)

const (
	calendarConnectedMessage = "Your Google Calendar has been connected! You can now ask me to show your schedule or create events."
	calendarFailedMessage    = "Failed to connect calendar. Please try again."
	defaultEventsWindowDays  = 7
)

func (h *APIHandler) CalendarAuthHandler(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.connections.AuthURL(userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

// CalendarCallbackHandler is hit by Google's redirect, so it answers with a
// redirect to the frontend instead of JSON.
func (h *APIHandler) CalendarCallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if oauthErr := q.Get("error"); oauthErr != "" {
		h.log.Warn("calendar authorization denied", "oauth_error", oauthErr)
		h.redirectToFrontend(w, r, "error", calendarFailedMessage)
		return
	}

	userID, err := h.connections.HandleCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		h.log.Error("calendar callback failed", "error", err)
		h.redirectToFrontend(w, r, "error", calendarFailedMessage)
		return
	}
	h.log.Info("calendar callback completed", "user_id", userID)
	h.redirectToFrontend(w, r, "connected", calendarConnectedMessage)
}

func (h *APIHandler) redirectToFrontend(w http.ResponseWriter, r *http.Request, state, message string) {
	v := url.Values{}
	v.Set("calendar", state)
	v.Set("message", message)
	http.Redirect(w, r, h.frontendURL+"?"+v.Encode(), http.StatusFound)
}

func (h *APIHandler) CalendarStatusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.connections.Status(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *APIHandler) CalendarDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.Disconnect(r.Context(), userIDFrom(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEventsHandler defaults to the coming week starting today.
func (h *APIHandler) ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	startArg := q.Get("startDate")
	if startArg == "" {
		startArg = "today"
	}
	start, err := h.parser.ParseDate(startArg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end := start.AddDate(0, 0, defaultEventsWindowDays)
	if endArg := q.Get("endDate"); endArg != "" {
		if end, err = h.parser.ParseDate(endArg); err != nil {
			h.writeError(w, r, err)
			return
		}
		if timeparse.SameDay(start, end) {
			end = timeparse.StartOfDay(start).AddDate(0, 0, 1)
		}
	}
	if !end.After(start) {
		h.writeError(w, r, apperr.Validation("api.events", "endDate must be after startDate"))
		return
	}

	events, err := h.events.ListEvents(r.Context(), userIDFrom(r.Context()), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []calendar.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type createEventRequest struct {
	EventDetails struct {
		Title       string   `json:"title"`
		StartTime   string   `json:"startTime"`
		EndTime     string   `json:"endTime"`
		Description string   `json:"description"`
		Attendees   []string `json:"attendees"`
	} `json:"eventDetails"`
}

func (h *APIHandler) CreateEventHandler(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d := req.EventDetails
	if d.Title == "" || d.StartTime == "" || d.EndTime == "" {
		h.writeError(w, r, apperr.Validation("api.create_event", "Missing required event details"))
		return
	}

	start, err := h.parser.ParseDateTime(d.StartTime)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := h.parser.ParseDateTime(d.EndTime)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !end.After(start) {
		h.writeError(w, r, apperr.Validation("api.create_event", "endTime must be after startTime"))
		return
	}

	created, err := h.events.InsertEvent(r.Context(), userIDFrom(r.Context()), calendar.NewEvent{
		Title:       d.Title,
		Description: d.Description,
		Start:       start,
		End:         end,
		Attendees:   d.Attendees,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "eventId": created.ID, "event": created})
}
