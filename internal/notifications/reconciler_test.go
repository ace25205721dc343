package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/notekeep-notifications/internal/events"
	"github.com/angelmondragon/notekeep-notifications/internal/realtime"
	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
)

type fakeAPI struct {
	listFn        func(ctx context.Context, limit, offset int) ([]Notification, error)
	countFn       func(ctx context.Context) (int, error)
	markReadFn    func(ctx context.Context, id string) error
	markAllReadFn func(ctx context.Context) error
}

func (f *fakeAPI) ListNotifications(ctx context.Context, limit, offset int) ([]Notification, error) {
	if f.listFn != nil {
		return f.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx)
	}
	return 0, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, id)
	}
	return nil
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx)
	}
	return nil
}

type recordingEffects struct {
	mu        sync.Mutex
	delivered []Notification
}

func (r *recordingEffects) Delivered(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered = append(r.delivered, n)
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, api API, effects Effects, bus *events.Bus) *Reconciler {
	t.Helper()
	r, err := NewReconciler(Options{
		API:       api,
		Effects:   effects,
		Bus:       bus,
		Namespace: enums.NamespaceUser,
		Now:       func() time.Time { return baseTime },
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return r
}

func push(id string) PushMessage {
	return PushMessage{Type: "notification", Data: Notification{ID: id, TypeCode: enums.NotificationTypeRefundRequested, Title: "T", Message: "M"}}
}

func at(id string, minutes int, read bool) Notification {
	return Notification{ID: id, CreatedAt: baseTime.Add(time.Duration(minutes) * time.Minute), IsRead: read}
}

func ids(items []Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func equalIDs(t *testing.T, got []Notification, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if fmt.Sprint(gotIDs) != fmt.Sprint(want) {
		t.Fatalf("expected ids %v, got %v", want, gotIDs)
	}
}

func TestNewReconcilerRequiresAPI(t *testing.T) {
	if _, err := NewReconciler(Options{}); err == nil {
		t.Fatal("expected error without api")
	}
}

func TestOnPushOnEmptyList(t *testing.T) {
	effects := &recordingEffects{}
	r := newTestReconciler(t, &fakeAPI{}, effects, nil)

	if !r.OnPush(context.Background(), push("n1")) {
		t.Fatal("expected push to be accepted")
	}

	snap := r.Snapshot()
	equalIDs(t, snap.Items, "n1")
	if snap.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", snap.UnreadCount)
	}
	if snap.Items[0].IsRead {
		t.Fatal("pushed notification must be unread")
	}
	if !snap.Items[0].CreatedAt.Equal(baseTime) {
		t.Fatalf("expected created_at defaulted to now, got %s", snap.Items[0].CreatedAt)
	}
	if len(effects.delivered) != 1 || effects.delivered[0].Title != "T" {
		t.Fatalf("expected side effects for n1, got %+v", effects.delivered)
	}
}

func TestOnPushKeepsServerCreatedAt(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)
	msg := push("n1")
	msg.Data.CreatedAt = baseTime.Add(-time.Hour)
	msg.Data.IsRead = true

	r.OnPush(context.Background(), msg)
	got := r.Snapshot().Items[0]
	if !got.CreatedAt.Equal(baseTime.Add(-time.Hour)) {
		t.Fatalf("expected server created_at, got %s", got.CreatedAt)
	}
	if got.IsRead {
		t.Fatal("push must default to unread")
	}
}

func TestOnPushEvictsOldestAtCapacity(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)
	for i := 0; i < DefaultCapacity; i++ {
		r.OnPush(context.Background(), push(fmt.Sprintf("n%d", i)))
	}
	if got := len(r.Snapshot().Items); got != DefaultCapacity {
		t.Fatalf("expected %d items, got %d", DefaultCapacity, got)
	}

	r.OnPush(context.Background(), push("newest"))

	snap := r.Snapshot()
	if len(snap.Items) != DefaultCapacity {
		t.Fatalf("expected list to stay at %d, got %d", DefaultCapacity, len(snap.Items))
	}
	if snap.Items[0].ID != "newest" {
		t.Fatalf("expected newest first, got %s", snap.Items[0].ID)
	}
	for _, n := range snap.Items {
		if n.ID == "n0" {
			t.Fatal("expected oldest entry n0 to be evicted")
		}
	}
	if snap.Items[len(snap.Items)-1].ID != "n1" {
		t.Fatalf("expected n1 at the tail, got %s", snap.Items[len(snap.Items)-1].ID)
	}
}

func TestPushesBoundListAndCountUnread(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)
	for i := 0; i < 3*DefaultCapacity; i++ {
		r.OnPush(context.Background(), push(fmt.Sprintf("n%d", i)))
		snap := r.Snapshot()
		if len(snap.Items) > DefaultCapacity {
			t.Fatalf("list exceeded capacity: %d", len(snap.Items))
		}
		if snap.UnreadCount != i+1 {
			t.Fatalf("expected unread %d after push %d, got %d", i+1, i, snap.UnreadCount)
		}
	}
}

func TestDuplicatePushIsIgnored(t *testing.T) {
	effects := &recordingEffects{}
	r := newTestReconciler(t, &fakeAPI{}, effects, nil)

	r.OnPush(context.Background(), push("n1"))
	if r.OnPush(context.Background(), push("n1")) {
		t.Fatal("expected duplicate push to be rejected")
	}

	snap := r.Snapshot()
	equalIDs(t, snap.Items, "n1")
	if snap.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", snap.UnreadCount)
	}
	if len(effects.delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(effects.delivered))
	}
}

func TestOnPushWithoutIDGetsLocalID(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)
	r.OnPush(context.Background(), push(""))
	r.OnPush(context.Background(), push(""))

	snap := r.Snapshot()
	if len(snap.Items) != 2 || snap.Items[0].ID == snap.Items[1].ID || snap.Items[0].ID == "" {
		t.Fatalf("expected two distinct local ids, got %v", ids(snap.Items))
	}
}

func TestMarkAsReadIsIdempotent(t *testing.T) {
	calls := 0
	api := &fakeAPI{markReadFn: func(_ context.Context, id string) error {
		calls++
		if id != "n1" {
			t.Fatalf("unexpected id %s", id)
		}
		return nil
	}}
	r := newTestReconciler(t, api, nil, nil)
	r.OnPush(context.Background(), push("n2"))
	r.OnPush(context.Background(), push("n1"))

	for i := 0; i < 2; i++ {
		if err := r.MarkAsRead(context.Background(), "n1"); err != nil {
			t.Fatalf("mark read: %v", err)
		}
	}

	snap := r.Snapshot()
	if snap.UnreadCount != 1 {
		t.Fatalf("expected unread 1, got %d", snap.UnreadCount)
	}
	n1, _ := r.Find("n1")
	if !n1.IsRead {
		t.Fatal("expected n1 to be read")
	}
	if calls != 2 {
		t.Fatalf("expected server called for each request, got %d", calls)
	}
}

func TestMarkAsReadFloorsAtZero(t *testing.T) {
	count := 0
	api := &fakeAPI{countFn: func(context.Context) (int, error) { return count, nil }}
	r := newTestReconciler(t, api, nil, nil)
	r.OnPush(context.Background(), push("n1"))
	if err := r.FetchUnreadCount(context.Background()); err != nil {
		t.Fatalf("fetch count: %v", err)
	}

	if err := r.MarkAsRead(context.Background(), "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := r.MarkAsRead(context.Background(), "missing"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got := r.Snapshot().UnreadCount; got != 0 {
		t.Fatalf("expected unread floored at 0, got %d", got)
	}
}

func TestMarkAsReadFailureLeavesStateUnchanged(t *testing.T) {
	api := &fakeAPI{markReadFn: func(context.Context, string) error {
		return pkgerrors.New(pkgerrors.CodeDependency, "boom")
	}}
	r := newTestReconciler(t, api, nil, nil)
	r.OnPush(context.Background(), push("n1"))

	if err := r.MarkAsRead(context.Background(), "n1"); err == nil {
		t.Fatal("expected error")
	}
	snap := r.Snapshot()
	if snap.UnreadCount != 1 || snap.Items[0].IsRead {
		t.Fatalf("expected state unchanged, got %+v", snap)
	}

	// a later successful call still decrements
	api.markReadFn = nil
	if err := r.MarkAsRead(context.Background(), "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got := r.Snapshot().UnreadCount; got != 0 {
		t.Fatalf("expected unread 0, got %d", got)
	}
}

func TestMarkAsReadRequiresID(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)
	err := r.MarkAsRead(context.Background(), "  ")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	api := &fakeAPI{countFn: func(context.Context) (int, error) { return 12, nil }}
	bus := events.NewBus(nil)
	var got []events.Event
	bus.SubscribeAll(func(ev events.Event) { got = append(got, ev) })

	r := newTestReconciler(t, api, nil, bus)
	r.OnPush(context.Background(), push("n1"))
	r.OnPush(context.Background(), push("n2"))
	_ = r.FetchUnreadCount(context.Background())

	if err := r.MarkAllAsRead(context.Background()); err != nil {
		t.Fatalf("mark all: %v", err)
	}
	snap := r.Snapshot()
	if snap.UnreadCount != 0 {
		t.Fatalf("expected unread 0, got %d", snap.UnreadCount)
	}
	for _, n := range snap.Items {
		if !n.IsRead {
			t.Fatalf("expected %s read", n.ID)
		}
	}
	if len(got) != 1 || got[0].Name != events.NotificationsReadAll || got[0].Namespace != enums.NamespaceUser {
		t.Fatalf("expected read_all broadcast, got %+v", got)
	}
}

func TestMarkAllAsReadFailureLeavesStateUnchanged(t *testing.T) {
	api := &fakeAPI{markAllReadFn: func(context.Context) error { return errors.New("offline") }}
	r := newTestReconciler(t, api, nil, nil)
	r.OnPush(context.Background(), push("n1"))

	if err := r.MarkAllAsRead(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if snap := r.Snapshot(); snap.UnreadCount != 1 || snap.Items[0].IsRead {
		t.Fatalf("expected state unchanged, got %+v", snap)
	}
}

func TestMarkAsReadBroadcasts(t *testing.T) {
	bus := events.NewBus(nil)
	var got []events.Event
	bus.Subscribe(events.NotificationRead, func(ev events.Event) { got = append(got, ev) })

	r := newTestReconciler(t, &fakeAPI{}, nil, bus)
	r.OnPush(context.Background(), push("n1"))
	if err := r.MarkAsRead(context.Background(), "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(got) != 1 || got[0].NotificationID != "n1" || got[0].TypeCode != enums.NotificationTypeRefundRequested {
		t.Fatalf("unexpected broadcast %+v", got)
	}
}

func TestFetchListReplacesAndFailureKeepsPrevious(t *testing.T) {
	page := []Notification{at("a", 2, false), at("b", 1, true)}
	var fail bool
	api := &fakeAPI{listFn: func(_ context.Context, limit, offset int) ([]Notification, error) {
		if limit != DefaultPageSize || offset != 0 {
			t.Fatalf("unexpected paging %d/%d", limit, offset)
		}
		if fail {
			return nil, errors.New("offline")
		}
		return page, nil
	}}
	r := newTestReconciler(t, api, nil, nil)

	if err := r.FetchList(context.Background(), 0, 0); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	equalIDs(t, r.Snapshot().Items, "a", "b")

	fail = true
	if err := r.FetchList(context.Background(), 0, 0); err == nil {
		t.Fatal("expected fetch error")
	}
	equalIDs(t, r.Snapshot().Items, "a", "b")
}

func TestFetchListDropsEntriesMissingFromNewerSnapshot(t *testing.T) {
	page := []Notification{at("a", 1, false)}
	r := newTestReconciler(t, &fakeAPI{listFn: func(context.Context, int, int) ([]Notification, error) {
		return page, nil
	}}, nil, nil)

	r.OnPush(context.Background(), push("pushed-before"))
	if err := r.FetchList(context.Background(), 10, 0); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	equalIDs(t, r.Snapshot().Items, "a")
}

func TestFetchListKeepsPushArrivingDuringFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{listFn: func(context.Context, int, int) ([]Notification, error) {
		close(entered)
		<-release
		return []Notification{at("old", -10, false)}, nil
	}}
	r := newTestReconciler(t, api, nil, nil)

	done := make(chan error, 1)
	go func() { done <- r.FetchList(context.Background(), 10, 0) }()
	<-entered
	r.OnPush(context.Background(), push("fresh"))
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("fetch: %v", err)
	}

	equalIDs(t, r.Snapshot().Items, "fresh", "old")
}

func TestFetchListIgnoresStaleResponse(t *testing.T) {
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var mu sync.Mutex
	call := 0
	api := &fakeAPI{listFn: func(context.Context, int, int) ([]Notification, error) {
		mu.Lock()
		call++
		n := call
		mu.Unlock()
		if n == 1 {
			close(firstEntered)
			<-releaseFirst
			return []Notification{at("stale", 0, false)}, nil
		}
		return []Notification{at("fresh", 1, false)}, nil
	}}
	r := newTestReconciler(t, api, nil, nil)

	done := make(chan error, 1)
	go func() { done <- r.FetchList(context.Background(), 10, 0) }()
	<-firstEntered
	if err := r.FetchList(context.Background(), 10, 0); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	close(releaseFirst)
	if err := <-done; err != nil {
		t.Fatalf("first fetch: %v", err)
	}

	equalIDs(t, r.Snapshot().Items, "fresh")
}

func TestFetchListKeepsConfirmedReadState(t *testing.T) {
	api := &fakeAPI{listFn: func(context.Context, int, int) ([]Notification, error) {
		return []Notification{at("n1", 0, false)}, nil
	}}
	r := newTestReconciler(t, api, nil, nil)
	_ = r.FetchList(context.Background(), 10, 0)
	if err := r.MarkAsRead(context.Background(), "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	_ = r.FetchList(context.Background(), 10, 0)

	n1, ok := r.Find("n1")
	if !ok || !n1.IsRead {
		t.Fatalf("expected n1 to stay read, got %+v", n1)
	}
}

func TestConfirmedReadSetStaysBounded(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)
	ctx := context.Background()
	for i := 0; i < 5000; i++ {
		id := fmt.Sprintf("n%d", i)
		r.OnPush(ctx, push(id))
		if err := r.MarkAsRead(ctx, id); err != nil {
			t.Fatalf("mark read %s: %v", id, err)
		}
	}
	for i := 0; i < 200; i++ {
		if err := r.MarkAsRead(ctx, fmt.Sprintf("gone-%d", i)); err != nil {
			t.Fatalf("mark read: %v", err)
		}
	}
	if err := r.FetchList(ctx, 10, 0); err != nil {
		t.Fatalf("fetch list: %v", err)
	}

	r.mu.RLock()
	marked := len(r.markedRead)
	r.mu.RUnlock()
	if marked > DefaultCapacity {
		t.Fatalf("expected at most %d confirmed reads, got %d", DefaultCapacity, marked)
	}
	if got := r.Snapshot().UnreadCount; got != 0 {
		t.Fatalf("expected unread 0, got %d", got)
	}
}

func TestRepeatedMarkOutsideListDecrementsOnce(t *testing.T) {
	count := 3
	api := &fakeAPI{countFn: func(context.Context) (int, error) { return count, nil }}
	r := newTestReconciler(t, api, nil, nil)
	if err := r.FetchUnreadCount(context.Background()); err != nil {
		t.Fatalf("fetch count: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.MarkAsRead(context.Background(), "elsewhere"); err != nil {
			t.Fatalf("mark read: %v", err)
		}
	}
	if got := r.Snapshot().UnreadCount; got != 2 {
		t.Fatalf("expected unread 2, got %d", got)
	}
}

func TestFetchUnreadCountReplacesAndFailureKeeps(t *testing.T) {
	var fail bool
	api := &fakeAPI{countFn: func(context.Context) (int, error) {
		if fail {
			return 0, errors.New("offline")
		}
		return 7, nil
	}}
	r := newTestReconciler(t, api, nil, nil)
	r.OnPush(context.Background(), push("n1"))

	if err := r.FetchUnreadCount(context.Background()); err != nil {
		t.Fatalf("fetch count: %v", err)
	}
	if got := r.Snapshot().UnreadCount; got != 7 {
		t.Fatalf("expected server count 7, got %d", got)
	}
	fail = true
	_ = r.FetchUnreadCount(context.Background())
	if got := r.Snapshot().UnreadCount; got != 7 {
		t.Fatalf("expected count retained, got %d", got)
	}
}

func TestRefreshCombinesErrors(t *testing.T) {
	api := &fakeAPI{
		listFn:  func(context.Context, int, int) ([]Notification, error) { return nil, errors.New("list down") },
		countFn: func(context.Context) (int, error) { return 0, errors.New("count down") },
	}
	r := newTestReconciler(t, api, nil, nil)
	err := r.Refresh(context.Background())
	if err == nil || err.Error() != "list down; count down" {
		t.Fatalf("expected combined error, got %v", err)
	}
}

func TestResultsAfterCloseAreIgnored(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{listFn: func(context.Context, int, int) ([]Notification, error) {
		close(entered)
		<-release
		return []Notification{at("late", 0, false)}, nil
	}}
	effects := &recordingEffects{}
	r := newTestReconciler(t, api, effects, nil)
	r.OnPush(context.Background(), push("n1"))

	done := make(chan error, 1)
	go func() { done <- r.FetchList(context.Background(), 10, 0) }()
	<-entered
	r.Close()
	close(release)
	<-done

	equalIDs(t, r.Snapshot().Items, "n1")
	if r.OnPush(context.Background(), push("n2")) {
		t.Fatal("expected push after close to be ignored")
	}
	if len(effects.delivered) != 1 {
		t.Fatalf("expected no effects after close, got %d", len(effects.delivered))
	}
	if err := r.MarkAsRead(context.Background(), "n1"); err == nil {
		t.Fatal("expected mark read to fail after close")
	}
}

func TestHandleFrame(t *testing.T) {
	r := newTestReconciler(t, &fakeAPI{}, nil, nil)

	r.HandleFrame(realtime.Message{Type: realtime.MessageTypeNotification, Data: json.RawMessage(`{"id":"n1","type_code":"AI_LIMIT_REACHED","title":"Limit","metadata":{"action_url":"/ai-usage"}}`)})
	r.HandleFrame(realtime.Message{Type: "presence", Data: json.RawMessage(`{"id":"x"}`)})
	r.HandleFrame(realtime.Message{Data: json.RawMessage(`{"id":"n2"}`)})
	r.HandleFrame(realtime.Message{Data: json.RawMessage(`{"id":5}`)})

	snap := r.Snapshot()
	equalIDs(t, snap.Items, "n2", "n1")
	if snap.Items[1].ActionURL() != "/ai-usage" {
		t.Fatalf("expected metadata to survive, got %+v", snap.Items[1].Metadata)
	}
}
