package notifications

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/notekeep-notifications/internal/events"
	"github.com/angelmondragon/notekeep-notifications/internal/realtime"
	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
	"github.com/angelmondragon/notekeep-notifications/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	DefaultCapacity = 50
	DefaultPageSize = 20

	pushAccepted  = "accepted"
	pushDuplicate = "duplicate"
	pushIgnored   = "ignored"
)

// API is the server surface the reconciler depends on.
type API interface {
	ListNotifications(ctx context.Context, limit, offset int) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
}

// Effects runs the side effects of an accepted push.
type Effects interface {
	Delivered(ctx context.Context, n Notification)
}

// Options wires a Reconciler.
type Options struct {
	API       API
	Effects   Effects
	Bus       *events.Bus
	Namespace enums.Namespace
	Capacity  int
	PageSize  int
	Logger    *logger.Logger
	Metrics   *metrics.ReconcilerMetrics
	Now       func() time.Time
}

// Reconciler owns the client-side list of notifications and the unread
// counter. Server calls run outside the lock; every mutation is one critical
// section.
type Reconciler struct {
	api      API
	effects  Effects
	bus      *events.Bus
	ns       enums.Namespace
	capacity int
	pageSize int
	logg     *logger.Logger
	metrics  *metrics.ReconcilerMetrics
	now      func() time.Time

	mu         sync.RWMutex
	items      []Notification
	unread     int
	markedRead map[string]uint64
	markSeq    uint64
	pushSeq    uint64
	pushedAt   map[string]uint64
	listIssued uint64
	listApply  uint64
	countIssue uint64
	countApply uint64
	closed     bool
}

func NewReconciler(opts Options) (*Reconciler, error) {
	if opts.API == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications api required")
	}
	r := &Reconciler{
		api:        opts.API,
		effects:    opts.Effects,
		bus:        opts.Bus,
		ns:         opts.Namespace,
		capacity:   opts.Capacity,
		pageSize:   opts.PageSize,
		logg:       opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		markedRead: make(map[string]uint64),
		pushedAt:   make(map[string]uint64),
	}
	if r.capacity <= 0 {
		r.capacity = DefaultCapacity
	}
	if r.pageSize <= 0 {
		r.pageSize = DefaultPageSize
	}
	if r.logg == nil {
		r.logg = logger.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Snapshot returns a copy of the current state.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Notification, len(r.items))
	for i, n := range r.items {
		items[i] = n.clone()
	}
	return Snapshot{Items: items, UnreadCount: r.unread}
}

// Find returns the entry with id if it is in the working set.
func (r *Reconciler) Find(id string) (Notification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if idx := r.indexLocked(id); idx >= 0 {
		return r.items[idx].clone(), true
	}
	return Notification{}, false
}

// Refresh re-fetches the first page and the unread counter.
func (r *Reconciler) Refresh(ctx context.Context) error {
	return multierr.Combine(
		r.FetchList(ctx, r.pageSize, 0),
		r.FetchUnreadCount(ctx),
	)
}

// FetchList replaces the list with a server page, keeping entries pushed
// after the request was issued. On failure the previous list is retained and
// the error is returned for diagnostics only.
func (r *Reconciler) FetchList(ctx context.Context, limit, offset int) error {
	if limit <= 0 {
		limit = r.pageSize
	}
	if offset < 0 {
		offset = 0
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.listIssued++
	seq := r.listIssued
	pushMark := r.pushSeq
	r.mu.Unlock()

	page, err := r.api.ListNotifications(ctx, limit, offset)
	if err != nil {
		r.metrics.IncFetch("list", false)
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "fetch notification list failed; keeping previous list")
		return err
	}
	r.metrics.IncFetch("list", true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || seq <= r.listApply {
		r.logg.Debug(r.logg.WithField(ctx, "fetch_seq", seq), "discarding stale notification page")
		return nil
	}
	r.listApply = seq

	r.items = mergePage(mergeInput{
		server:   page,
		local:    r.items,
		capacity: r.capacity,
		keepLocal: func(id string) bool {
			return r.pushedAt[id] > pushMark
		},
		markedRead: func(id string) bool {
			_, ok := r.markedRead[id]
			return ok
		},
	})
	r.prunePushedLocked()
	r.pruneMarkedLocked()
	r.metrics.SetState(r.unread, len(r.items))
	return nil
}

// FetchUnreadCount replaces the unread counter with the server value.
func (r *Reconciler) FetchUnreadCount(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.countIssue++
	seq := r.countIssue
	r.mu.Unlock()

	count, err := r.api.UnreadCount(ctx)
	if err != nil {
		r.metrics.IncFetch("unread_count", false)
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "fetch unread count failed; keeping previous count")
		return err
	}
	r.metrics.IncFetch("unread_count", true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || seq <= r.countApply {
		return nil
	}
	r.countApply = seq
	if count < 0 {
		count = 0
	}
	r.unread = count
	r.metrics.SetState(r.unread, len(r.items))
	return nil
}

// MarkAsRead asks the server to mark id read and reflects it locally only on
// success. Repeating the call for the same id never decrements twice.
func (r *Reconciler) MarkAsRead(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	if r.isClosed() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "notifications closed")
	}

	ctx = r.logg.WithNotificationID(ctx, id)
	if err := r.api.MarkRead(ctx, id); err != nil {
		r.metrics.IncMark("one", false)
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "mark notification read failed")
		return err
	}
	r.metrics.IncMark("one", true)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	_, already := r.markedRead[id]
	r.rememberReadLocked(id)

	idx := r.indexLocked(id)
	wasUnread := idx < 0
	if idx >= 0 {
		wasUnread = !r.items[idx].IsRead
		r.items[idx].IsRead = true
	}
	if !already && wasUnread && r.unread > 0 {
		r.unread--
	}
	typeCode := enums.NotificationType("")
	if idx >= 0 {
		typeCode = r.items[idx].TypeCode
	}
	r.pruneMarkedLocked()
	r.metrics.SetState(r.unread, len(r.items))
	r.mu.Unlock()

	r.publish(ctx, events.Event{Name: events.NotificationRead, NotificationID: id, TypeCode: typeCode})
	return nil
}

// MarkAllAsRead asks the server to mark everything read, then clears the
// counter and flips every local entry.
func (r *Reconciler) MarkAllAsRead(ctx context.Context) error {
	if r.isClosed() {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "notifications closed")
	}
	if err := r.api.MarkAllRead(ctx); err != nil {
		r.metrics.IncMark("all", false)
		r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "mark all notifications read failed")
		return err
	}
	r.metrics.IncMark("all", true)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	for i := range r.items {
		r.items[i].IsRead = true
		r.rememberReadLocked(r.items[i].ID)
	}
	r.pruneMarkedLocked()
	r.unread = 0
	r.metrics.SetState(r.unread, len(r.items))
	r.mu.Unlock()

	r.publish(ctx, events.Event{Name: events.NotificationsReadAll})
	return nil
}

// OnPush records a realtime notification and triggers its side effects. It
// reports whether the push was accepted; pushes for ids already held are not.
func (r *Reconciler) OnPush(ctx context.Context, msg PushMessage) bool {
	n := msg.Data.clone()
	n.ID = strings.TrimSpace(n.ID)
	if n.ID == "" {
		n.ID = "local-" + uuid.NewString()
	}
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now().UTC()
	}
	ctx = r.logg.WithNotificationID(ctx, n.ID)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.metrics.IncPush(pushIgnored)
		return false
	}
	if r.indexLocked(n.ID) >= 0 {
		r.mu.Unlock()
		r.metrics.IncPush(pushDuplicate)
		r.logg.Debug(ctx, "ignoring duplicate push")
		return false
	}

	r.items = append([]Notification{n}, r.items...)
	if len(r.items) > r.capacity {
		for _, evicted := range r.items[r.capacity:] {
			delete(r.pushedAt, evicted.ID)
			delete(r.markedRead, evicted.ID)
		}
		r.items = r.items[:r.capacity:r.capacity]
	}
	r.unread++
	r.pushSeq++
	r.pushedAt[n.ID] = r.pushSeq
	r.metrics.SetState(r.unread, len(r.items))
	r.mu.Unlock()

	r.metrics.IncPush(pushAccepted)
	if r.effects != nil {
		r.effects.Delivered(ctx, n.clone())
	}
	return true
}

// HandleFrame adapts a realtime message to OnPush. Frames of other types
// are ignored.
func (r *Reconciler) HandleFrame(msg realtime.Message) {
	if msg.Type != "" && msg.Type != realtime.MessageTypeNotification {
		r.metrics.IncPush(pushIgnored)
		r.logg.Debug(r.logg.WithField(context.Background(), "frame_type", msg.Type), "ignoring non-notification frame")
		return
	}
	push, err := DecodePush(msg.Type, msg.Data)
	if err != nil {
		r.metrics.IncPush(pushIgnored)
		r.logg.Warn(r.logg.WithField(context.Background(), "error", err.Error()), "dropping undecodable push")
		return
	}
	r.OnPush(context.Background(), push)
}

// Close stops applying results. Calls that resolve afterwards are ignored.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Reconciler) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Reconciler) indexLocked(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Reconciler) prunePushedLocked() {
	if len(r.pushedAt) == 0 {
		return
	}
	held := make(map[string]struct{}, len(r.items))
	for _, n := range r.items {
		held[n.ID] = struct{}{}
	}
	for id := range r.pushedAt {
		if _, ok := held[id]; !ok {
			delete(r.pushedAt, id)
		}
	}
}

func (r *Reconciler) rememberReadLocked(id string) {
	r.markSeq++
	r.markedRead[id] = r.markSeq
}

// pruneMarkedLocked bounds the confirmed-read set to capacity. Ids still in
// the list are kept; the oldest marks for ids outside it go first.
func (r *Reconciler) pruneMarkedLocked() {
	if len(r.markedRead) <= r.capacity {
		return
	}
	held := make(map[string]struct{}, len(r.items))
	for _, n := range r.items {
		held[n.ID] = struct{}{}
	}
	outside := make([]string, 0, len(r.markedRead))
	for id := range r.markedRead {
		if _, ok := held[id]; !ok {
			outside = append(outside, id)
		}
	}
	sort.Slice(outside, func(i, j int) bool {
		return r.markedRead[outside[i]] < r.markedRead[outside[j]]
	})
	for _, id := range outside {
		if len(r.markedRead) <= r.capacity {
			return
		}
		delete(r.markedRead, id)
	}
}

func (r *Reconciler) publish(ctx context.Context, ev events.Event) {
	if r.bus == nil {
		return
	}
	ev.Namespace = r.ns
	if err := r.bus.Publish(ev); err != nil {
		r.logg.Error(ctx, "broadcast notification event", err)
	}
}
