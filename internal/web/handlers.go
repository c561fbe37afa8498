package web

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"condcal/internal/calendar"
	"condcal/internal/model"
	"condcal/internal/schedule"
)

type taskRequest struct {
	// Date is required on create and optional on update.
	Date string `json:"date"`
	model.RawTask
}

type conditionRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type renameConditionRequest struct {
	Name string `json:"name"`
}

type moveEventRequest struct {
	Start time.Time `json:"start"`
}

type rangeResponse[T any] struct {
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
	Items []T       `json:"items"`
}

func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	sel := schedule.ParseSelection(r.URL.Query().Get("conditions"))
	view, err := s.cal.Day(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["date"], sel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDayICS(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	sel := schedule.ParseSelection(r.URL.Query().Get("conditions"))
	body, err := s.cal.ExportDay(r.Context(), OwnerFrom(r.Context()), date, sel)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="condcal-`+date+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.cal.CreateTask(r.Context(), OwnerFrom(r.Context()), req.Date, req.RawTask)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.cal.UpdateTask(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"], req.Date, req.RawTask)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.DeleteTask(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportTasks(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read body")
		return
	}
	res, err := s.cal.ImportICS(r.Context(), OwnerFrom(r.Context()), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	occ, err := s.cal.Occurrences(r.Context(), OwnerFrom(r.Context()), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rangeResponse[model.Occurrence]{From: from, To: to, Items: occ})
}

func (s *Server) handleListConditions(w http.ResponseWriter, r *http.Request) {
	conds, err := s.cal.Conditions(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conds)
}

func (s *Server) handleCreateCondition(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.cal.CreateCondition(r.Context(), OwnerFrom(r.Context()), req.Name, req.Color)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleRenameCondition(w http.ResponseWriter, r *http.Request) {
	var req renameConditionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.cal.RenameCondition(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"], req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCondition(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.DeleteCondition(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.parseRange(w, r)
	if !ok {
		return
	}
	events, err := s.cal.Events(r.Context(), OwnerFrom(r.Context()), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rangeResponse[model.Event]{From: from, To: to, Items: events})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.Event
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := s.cal.CreateEvent(r.Context(), OwnerFrom(r.Context()), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.Event
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := s.cal.UpdateEvent(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"], req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := s.cal.MoveEvent(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"], req.Start)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.DeleteEvent(r.Context(), OwnerFrom(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p, err := s.cal.Preferences(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var req model.Preferences
	if !decodeJSON(w, r, &req) {
		return
	}
	owner := OwnerFrom(r.Context())
	if err := s.cal.SavePreferences(r.Context(), owner, req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	req.OwnerID = owner
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.DeleteAccount(r.Context(), OwnerFrom(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseRange reads the from/to query parameters. Each accepts RFC 3339 or
// a plain date; a missing "to" means one day after "from", and a missing
// "from" means today.
func (s *Server) parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	loc := s.cal.Location()

	from, err := parseInstant(q.Get("from"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	if from.IsZero() {
		y, m, d := time.Now().In(loc).Date()
		from = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}

	to, err := parseInstant(q.Get("to"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return time.Time{}, time.Time{}, false
	}
	if to.IsZero() {
		to = from.AddDate(0, 0, 1)
	}
	return from, to, true
}

// parseInstant returns the zero time for an empty value.
func parseInstant(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(model.DateLayout, v, loc)
	if err != nil {
		return time.Time{}, calendar.ErrInvalidDate
	}
	return t, nil
}
