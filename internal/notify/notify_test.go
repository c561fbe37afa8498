package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"condcal/internal/model"
	"condcal/internal/store/sqlite"
)

type recordingSender struct {
	sent []Payload
	err  error
}

func (r *recordingSender) Send(_ context.Context, _ model.Preferences, p Payload) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, p)
	return nil
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "condcal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPayloadFor(t *testing.T) {
	p := PayloadFor(model.Event{ID: "e1", Title: "Dentist"})
	assert.Equal(t, "Upcoming Event", p.Title)
	assert.Equal(t, `Your event "Dentist" is starting soon.`, p.Body)
	assert.Equal(t, "e1", p.EventID)
}

func TestCheckUpcoming(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.SavePreferences(ctx, model.Preferences{OwnerID: "u1", PushEndpoint: "https://push.example"}))
	mk := func(owner, title string, start time.Time, notify bool) {
		_, err := st.CreateEvent(ctx, model.Event{OwnerID: owner, Title: title, Start: start, Notify: notify})
		require.NoError(t, err)
	}
	mk("u1", "Soon", now.Add(30*time.Minute), true)
	mk("u1", "Quiet", now.Add(30*time.Minute), false)
	mk("u1", "Later", now.Add(2*time.Hour), true)
	mk("u2", "No channel", now.Add(10*time.Minute), true)

	sender := &recordingSender{}
	n := New(st, sender, time.Hour)

	res, err := n.CheckUpcoming(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 2, Sent: 1, Skipped: 1}, res)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, `Your event "Soon" is starting soon.`, sender.sent[0].Body)

	// A minute later the same event is not sent again.
	res, err = n.CheckUpcoming(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Len(t, sender.sent, 1)

	// Once the event has started it leaves the window and the sent set.
	_, err = n.CheckUpcoming(ctx, now.Add(31*time.Minute))
	require.NoError(t, err)
	n.mu.Lock()
	assert.Empty(t, n.sent)
	n.mu.Unlock()
}

func TestCheckUpcomingRetriesFailedSends(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SavePreferences(ctx, model.Preferences{OwnerID: "u1", Email: "a@example.com"}))
	_, err := st.CreateEvent(ctx, model.Event{OwnerID: "u1", Title: "Soon", Start: now.Add(5 * time.Minute), Notify: true})
	require.NoError(t, err)

	sender := &recordingSender{err: errors.New("boom")}
	n := New(st, sender, 0)

	res, err := n.CheckUpcoming(ctx, now)
	assert.Error(t, err)
	assert.Equal(t, 1, res.Failed)

	sender.err = nil
	res, err = n.CheckUpcoming(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

type slowSender struct {
	mu    sync.Mutex
	delay time.Duration
	sends int
}

func (s *slowSender) Send(_ context.Context, _ model.Preferences, _ Payload) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.sends++
	s.mu.Unlock()
	return nil
}

func TestCheckUpcomingOverlappingRunsSendOnce(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SavePreferences(ctx, model.Preferences{OwnerID: "u1", PushEndpoint: "https://push.example"}))
	_, err := st.CreateEvent(ctx, model.Event{OwnerID: "u1", Title: "Soon", Start: now.Add(10 * time.Minute), Notify: true})
	require.NoError(t, err)

	sender := &slowSender{delay: 200 * time.Millisecond}
	n := New(st, sender, time.Hour)

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := n.CheckUpcoming(ctx, now)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, sender.sends)
	assert.Equal(t, 1, results[0].Sent+results[1].Sent)
	assert.Equal(t, 1, results[0].Skipped+results[1].Skipped)
}

func TestStartRejectsBadExpression(t *testing.T) {
	n := New(openStore(t), LogSender{}, time.Hour)
	_, err := n.Start(context.Background(), "not a cron")
	assert.Error(t, err)

	c, err := n.Start(context.Background(), "*/5 * * * *")
	require.NoError(t, err)
	<-c.Stop().Done()
}

func TestWebhookSender(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewWebhookSender()
	prefs := model.Preferences{OwnerID: "u1", PushEndpoint: srv.URL, PushP256dh: "key", PushAuth: "auth"}
	require.NoError(t, s.Send(context.Background(), prefs, PayloadFor(model.Event{ID: "e1", Title: "Dentist"})))
	assert.Equal(t, "Upcoming Event", got.Title)
	require.NotNil(t, got.Keys)
	assert.Equal(t, "key", got.Keys.P256dh)

	// Email-only owners have no webhook channel.
	assert.ErrorIs(t, s.Send(context.Background(), model.Preferences{Email: "a@example.com"}, Payload{}), ErrNoChannel)
}

func TestCheckUpcomingCountsNoChannelAsSkipped(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.SavePreferences(ctx, model.Preferences{OwnerID: "u1", Email: "a@example.com"}))
	_, err := st.CreateEvent(ctx, model.Event{OwnerID: "u1", Title: "Soon", Start: now.Add(5 * time.Minute), Notify: true})
	require.NoError(t, err)

	n := New(st, NewWebhookSender(), time.Hour)
	res, err := n.CheckUpcoming(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Found: 1, Skipped: 1}, res)

	n.mu.Lock()
	assert.Empty(t, n.sent)
	n.mu.Unlock()
}

func TestWebhookSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	err := NewWebhookSender().Send(context.Background(), model.Preferences{PushEndpoint: srv.URL}, Payload{})
	assert.ErrorContains(t, err, "410")
}
