// Package calendar implements the user-facing operations on top of a
// store.Store: it validates input, composes day views and announces every
// write on a realtime.Bus.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"condcal/internal/ics"
	appLog "condcal/internal/log"
	"condcal/internal/model"
	"condcal/internal/realtime"
	"condcal/internal/schedule"
	"condcal/internal/store"
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrUnknownCondition = errors.New("unknown condition")
	ErrInvalidColor     = errors.New("color must be #rrggbb")
	ErrInvalidRange     = errors.New("range end must be after start")
	ErrInvalidEndpoint  = errors.New("push endpoint must be a public https URL")
	ErrInvalidEmail     = errors.New("invalid email address")
)

// maxRange bounds Events and Occurrences queries.
const maxRange = 366 * 24 * time.Hour

// Service is safe for concurrent use when its store and bus are.
type Service struct {
	store store.Store
	bus   realtime.Bus
	loc   *time.Location
}

func New(st store.Store, bus realtime.Bus, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: st, bus: bus, loc: loc}
}

// Location is the timezone task wall-clock times are interpreted in.
func (s *Service) Location() *time.Location { return s.loc }

// ParseDate checks a DateLayout date string.
func (s *Service) ParseDate(date string) (time.Time, error) {
	d, err := time.ParseInLocation(model.DateLayout, date, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return d, nil
}

func (s *Service) publish(ctx context.Context, c realtime.Change) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, c); err != nil {
		appLog.Error("calendar: publish change failed", err,
			"owner", c.OwnerID, "entity", c.Entity, "op", c.Op, "id", c.ID)
	}
}

// Day fetches the owner's tasks and conditions for date and composes the
// day view for sel.
func (s *Service) Day(ctx context.Context, ownerID, date string, sel schedule.Selection) (schedule.DayView, error) {
	view, _, err := s.day(ctx, ownerID, date, sel)
	return view, err
}

// day also returns the conditions the view was built from.
func (s *Service) day(ctx context.Context, ownerID, date string, sel schedule.Selection) (schedule.DayView, []model.Condition, error) {
	if _, err := s.ParseDate(date); err != nil {
		return schedule.DayView{}, nil, err
	}
	tasks, err := s.store.FetchTasks(ctx, ownerID, date)
	if err != nil {
		return schedule.DayView{}, nil, err
	}
	conds, err := s.store.FetchConditions(ctx, ownerID)
	if err != nil {
		return schedule.DayView{}, nil, err
	}
	return schedule.BuildDay(date, tasks, conds, sel), conds, nil
}

// CreateTask validates raw and stores it on date.
func (s *Service) CreateTask(ctx context.Context, ownerID, date string, raw model.RawTask) (model.Task, error) {
	t, err := s.prepareTask(ctx, ownerID, date, raw)
	if err != nil {
		return model.Task{}, err
	}
	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	appLog.Debug("task created", "owner", ownerID, "id", created.ID, "date", date)
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityTask, Op: realtime.OpCreated, ID: created.ID, Date: date})
	return created, nil
}

// UpdateTask replaces task id with raw. An empty date keeps the task's
// current day.
func (s *Service) UpdateTask(ctx context.Context, ownerID, id, date string, raw model.RawTask) (model.Task, error) {
	existing, err := s.store.GetTask(ctx, ownerID, id)
	if err != nil {
		return model.Task{}, err
	}
	if date == "" {
		date = existing.Date
	}
	t, err := s.prepareTask(ctx, ownerID, date, raw)
	if err != nil {
		return model.Task{}, err
	}
	t.ID = id
	updated, err := s.store.UpdateTask(ctx, t)
	if err != nil {
		return model.Task{}, err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityTask, Op: realtime.OpUpdated, ID: id, Date: date})
	if existing.Date != date {
		s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityTask, Op: realtime.OpUpdated, ID: id, Date: existing.Date})
	}
	return updated, nil
}

func (s *Service) DeleteTask(ctx context.Context, ownerID, id string) error {
	existing, err := s.store.GetTask(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, ownerID, id); err != nil {
		return err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityTask, Op: realtime.OpDeleted, ID: id, Date: existing.Date})
	return nil
}

func (s *Service) prepareTask(ctx context.Context, ownerID, date string, raw model.RawTask) (model.Task, error) {
	if _, err := s.ParseDate(date); err != nil {
		return model.Task{}, err
	}
	t, err := schedule.Validate(raw)
	if err != nil {
		return model.Task{}, err
	}
	if err := s.requireCondition(ctx, ownerID, t.Condition); err != nil {
		return model.Task{}, err
	}
	t.OwnerID = ownerID
	t.Date = date
	return t, nil
}

func (s *Service) requireCondition(ctx context.Context, ownerID, name string) error {
	conds, err := s.store.FetchConditions(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, c := range conds {
		if c.Name == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownCondition, name)
}

// Conditions returns the owner's conditions with Color resolved.
func (s *Service) Conditions(ctx context.Context, ownerID string) ([]model.Condition, error) {
	conds, err := s.store.FetchConditions(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Condition, len(conds))
	for i, c := range conds {
		c.Color = schedule.ColorFor(c.Name, conds)
		out[i] = c
	}
	return out, nil
}

// CreateCondition stores a new condition. color may be empty, in which
// case one is derived from the name when rendering.
func (s *Service) CreateCondition(ctx context.Context, ownerID, name, color string) (model.Condition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Condition{}, &schedule.ValidationError{Kind: schedule.MissingField, Field: "name"}
	}
	color = strings.ToLower(strings.TrimSpace(color))
	if color != "" && !validColor(color) {
		return model.Condition{}, ErrInvalidColor
	}
	c, err := s.store.CreateCondition(ctx, model.Condition{OwnerID: ownerID, Name: name, Color: color})
	if err != nil {
		return model.Condition{}, err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityCondition, Op: realtime.OpCreated, ID: c.ID})
	return c, nil
}

// RenameCondition changes the name of condition id. Tasks and events
// tagged with the old name keep it.
func (s *Service) RenameCondition(ctx context.Context, ownerID, id, name string) (model.Condition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Condition{}, &schedule.ValidationError{Kind: schedule.MissingField, Field: "name"}
	}
	c, err := s.store.RenameCondition(ctx, ownerID, id, name)
	if err != nil {
		return model.Condition{}, err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityCondition, Op: realtime.OpUpdated, ID: id})
	return c, nil
}

// DeleteCondition removes the condition only; tasks tagged with it keep
// their tag and render with a derived color.
func (s *Service) DeleteCondition(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteCondition(ctx, ownerID, id); err != nil {
		return err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityCondition, Op: realtime.OpDeleted, ID: id})
	return nil
}

func validColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

func checkRange(from, to time.Time) error {
	if !to.After(from) || to.Sub(from) > maxRange {
		return ErrInvalidRange
	}
	return nil
}

// Events lists the owner's events starting in [from, to).
func (s *Service) Events(ctx context.Context, ownerID string, from, to time.Time) ([]model.Event, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, ownerID, from, to)
}

func (s *Service) prepareEvent(ctx context.Context, ownerID string, e model.Event) (model.Event, error) {
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return model.Event{}, &schedule.ValidationError{Kind: schedule.MissingField, Field: "title"}
	}
	if e.Start.IsZero() {
		return model.Event{}, &schedule.ValidationError{Kind: schedule.MissingField, Field: "start"}
	}
	e.Condition = strings.TrimSpace(e.Condition)
	if e.Condition != "" {
		if err := s.requireCondition(ctx, ownerID, e.Condition); err != nil {
			return model.Event{}, err
		}
	}
	e.OwnerID = ownerID
	return e, nil
}

func (s *Service) CreateEvent(ctx context.Context, ownerID string, e model.Event) (model.Event, error) {
	e, err := s.prepareEvent(ctx, ownerID, e)
	if err != nil {
		return model.Event{}, err
	}
	e.ID = ""
	created, err := s.store.CreateEvent(ctx, e)
	if err != nil {
		return model.Event{}, err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityEvent, Op: realtime.OpCreated, ID: created.ID})
	return created, nil
}

// UpdateEvent replaces every editable field of event id.
func (s *Service) UpdateEvent(ctx context.Context, ownerID, id string, e model.Event) (model.Event, error) {
	e, err := s.prepareEvent(ctx, ownerID, e)
	if err != nil {
		return model.Event{}, err
	}
	e.ID = id
	updated, err := s.store.UpdateEvent(ctx, e)
	if err != nil {
		return model.Event{}, err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityEvent, Op: realtime.OpUpdated, ID: id})
	return updated, nil
}

// MoveEvent reschedules an event to start, keeping everything else.
func (s *Service) MoveEvent(ctx context.Context, ownerID, id string, start time.Time) (model.Event, error) {
	if start.IsZero() {
		return model.Event{}, &schedule.ValidationError{Kind: schedule.MissingField, Field: "start"}
	}
	e, err := s.store.GetEvent(ctx, ownerID, id)
	if err != nil {
		return model.Event{}, err
	}
	e.Start = start
	updated, err := s.store.UpdateEvent(ctx, e)
	if err != nil {
		return model.Event{}, err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityEvent, Op: realtime.OpUpdated, ID: id})
	return updated, nil
}

func (s *Service) DeleteEvent(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteEvent(ctx, ownerID, id); err != nil {
		return err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityEvent, Op: realtime.OpDeleted, ID: id})
	return nil
}

// ExportDay renders the visible tasks of the day as iCalendar text.
func (s *Service) ExportDay(ctx context.Context, ownerID, date string, sel schedule.Selection) (string, error) {
	view, conds, err := s.day(ctx, ownerID, date, sel)
	if err != nil {
		return "", err
	}
	return ics.ExportDay(view, conds, ics.ExportConfig{Location: s.loc}), nil
}

// ImportResult reports the outcome of ImportICS.
type ImportResult struct {
	Created []model.Task `json:"created"`
	// Rejected maps source UIDs to the reason they were not stored.
	Rejected map[string]string `json:"rejected,omitempty"`
}

// ImportICS stores every VEVENT of body that maps onto a valid task.
// Conditions named by the events must already exist.
func (s *Service) ImportICS(ctx context.Context, ownerID string, body []byte) (ImportResult, error) {
	imported, err := ics.ParseTasks(body, s.loc)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Created: []model.Task{}, Rejected: map[string]string{}}
	for _, it := range imported {
		t, err := s.CreateTask(ctx, ownerID, it.Date, it.Raw)
		if err != nil {
			var vErr *schedule.ValidationError
			if errors.As(err, &vErr) || errors.Is(err, ErrUnknownCondition) || errors.Is(err, ErrInvalidDate) {
				res.Rejected[it.UID] = err.Error()
				continue
			}
			return res, err
		}
		res.Created = append(res.Created, t)
	}
	appLog.Info("ics import completed", "owner", ownerID, "created", len(res.Created), "rejected", len(res.Rejected))
	return res, nil
}

// Occurrences expands the owner's tasks, honoring repeat rules, over
// [from, to).
func (s *Service) Occurrences(ctx context.Context, ownerID string, from, to time.Time) ([]model.Occurrence, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	res, err := ics.ExpandRepeats(tasks, ics.ExpandConfig{Location: s.loc, RangeStart: from, RangeEnd: to})
	if err != nil {
		return nil, err
	}
	return res.Occurrences, nil
}

func (s *Service) Preferences(ctx context.Context, ownerID string) (model.Preferences, error) {
	return s.store.Preferences(ctx, ownerID)
}

// SavePreferences stores the owner's delivery settings. A push endpoint
// must be an https URL whose host is not a loopback, private or
// link-local address; an email must be a bare address.
func (s *Service) SavePreferences(ctx context.Context, ownerID string, p model.Preferences) error {
	p.PushEndpoint = strings.TrimSpace(p.PushEndpoint)
	p.Email = strings.TrimSpace(p.Email)
	if p.PushEndpoint != "" {
		if err := checkEndpoint(p.PushEndpoint); err != nil {
			return err
		}
	}
	if p.Email != "" {
		addr, err := mail.ParseAddress(p.Email)
		if err != nil || addr.Address != p.Email {
			return ErrInvalidEmail
		}
	}
	p.OwnerID = ownerID
	return s.store.SavePreferences(ctx, p)
}

func checkEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Hostname() == "" || u.User != nil {
		return ErrInvalidEndpoint
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return ErrInvalidEndpoint
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
			return ErrInvalidEndpoint
		}
	}
	return nil
}

// DeleteAccount removes all of the owner's data and tells connected
// clients.
func (s *Service) DeleteAccount(ctx context.Context, ownerID string) error {
	if err := s.store.DeleteAccount(ctx, ownerID); err != nil {
		return err
	}
	s.publish(ctx, realtime.Change{OwnerID: ownerID, Entity: realtime.EntityAccount, Op: realtime.OpDeleted})
	return nil
}
