// Package notify sends reminders for events that start soon.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "condcal/internal/log"
	"condcal/internal/model"
	"condcal/internal/store"
)

// DefaultLead is how far ahead of an event's start reminders go out.
const DefaultLead = time.Hour

// Payload is the message delivered for one event.
type Payload struct {
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	EventID string    `json:"eventId"`
	StartAt time.Time `json:"startAt"`
}

// PayloadFor builds the reminder text for e.
func PayloadFor(e model.Event) Payload {
	return Payload{
		Title:   "Upcoming Event",
		Body:    fmt.Sprintf("Your event \"%s\" is starting soon.", e.Title),
		EventID: e.ID,
		StartAt: e.Start,
	}
}

// ErrNoChannel is returned by a Sender that cannot reach the owner with
// the preferences it was given. The reminder counts as skipped.
var ErrNoChannel = errors.New("notify: no channel for sender")

// Sender delivers a payload to one user.
type Sender interface {
	Send(ctx context.Context, prefs model.Preferences, p Payload) error
}

// Notifier checks for upcoming events and hands reminders to a Sender.
// Each event instant is sent at most once per process.
type Notifier struct {
	store  store.Store
	sender Sender
	lead   time.Duration

	// runMu serializes CheckUpcoming so overlapping runs cannot both
	// send the same reminder.
	runMu sync.Mutex

	mu   sync.Mutex
	sent map[string]time.Time
}

func New(st store.Store, sender Sender, lead time.Duration) *Notifier {
	if lead <= 0 {
		lead = DefaultLead
	}
	return &Notifier{store: st, sender: sender, lead: lead, sent: make(map[string]time.Time)}
}

// Result summarizes one CheckUpcoming run.
type Result struct {
	Found   int
	Sent    int
	Skipped int
	Failed  int
}

// CheckUpcoming sends reminders for notify-enabled events starting in
// [now, now+lead). Owners without a delivery channel are skipped. Send
// failures are counted and left unmarked so the next run retries them.
// Concurrent calls run one after another.
func (n *Notifier) CheckUpcoming(ctx context.Context, now time.Time) (Result, error) {
	n.runMu.Lock()
	defer n.runMu.Unlock()

	var res Result
	events, err := n.store.UpcomingEvents(ctx, now, now.Add(n.lead))
	if err != nil {
		return res, fmt.Errorf("upcoming events: %w", err)
	}
	res.Found = len(events)
	n.prune(now)

	prefsByOwner := make(map[string]model.Preferences)
	var errs []error
	for _, e := range events {
		key := sentKey(e)
		if n.wasSent(key) {
			res.Skipped++
			continue
		}

		prefs, ok := prefsByOwner[e.OwnerID]
		if !ok {
			prefs, err = n.store.Preferences(ctx, e.OwnerID)
			if err != nil {
				res.Failed++
				errs = append(errs, err)
				continue
			}
			prefsByOwner[e.OwnerID] = prefs
		}
		if !prefs.Deliverable() {
			appLog.Debug("notify: no delivery channel", "owner", e.OwnerID, "event", e.ID)
			res.Skipped++
			continue
		}

		if err := n.sender.Send(ctx, prefs, PayloadFor(e)); err != nil {
			if errors.Is(err, ErrNoChannel) {
				appLog.Debug("notify: sender has no channel for owner", "owner", e.OwnerID, "event", e.ID)
				res.Skipped++
				continue
			}
			appLog.Error("notify: send failed", err, "owner", e.OwnerID, "event", e.ID)
			res.Failed++
			errs = append(errs, err)
			continue
		}
		n.markSent(key, e.Start)
		res.Sent++
	}

	appLog.Info("notify: check completed",
		"found", res.Found, "sent", res.Sent, "skipped", res.Skipped, "failed", res.Failed)
	return res, errors.Join(errs...)
}

func sentKey(e model.Event) string {
	return e.ID + "@" + e.Start.UTC().Format(time.RFC3339)
}

func (n *Notifier) wasSent(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sent[key]
	return ok
}

func (n *Notifier) markSent(key string, start time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent[key] = start
}

// prune forgets events that have already started.
func (n *Notifier) prune(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, start := range n.sent {
		if start.Before(now) {
			delete(n.sent, k)
		}
	}
}

// Start schedules CheckUpcoming on expr, a standard five-field cron
// expression. The caller stops the returned scheduler.
func (n *Notifier) Start(ctx context.Context, expr string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(expr, func() {
		if _, err := n.CheckUpcoming(ctx, time.Now()); err != nil {
			appLog.Error("notify: scheduled check failed", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("notify: bad cron expression %q: %w", expr, err)
	}
	c.Start()
	appLog.Info("notify: scheduler started", "cron", expr, "lead", n.lead.String())
	return c, nil
}
