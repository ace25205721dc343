package notifications

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/angelmondragon/notekeep-notifications/internal/events"
	"github.com/angelmondragon/notekeep-notifications/internal/navigation"
	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// Chime plays the audible cue for a new notification.
type Chime interface {
	Play(ctx context.Context) error
}

// Toaster presents a transient toast.
type Toaster interface {
	Show(ctx context.Context, toast Toast)
}

// Navigator moves the presentation layer to a resolved route.
type Navigator interface {
	Navigate(ctx context.Context, target navigation.RouteTarget) error
}

// Toast is a transient presentation of a delivered notification.
type Toast struct {
	NotificationID string                 `json:"notification_id"`
	TypeCode       enums.NotificationType `json:"type_code"`
	Icon           string                 `json:"icon"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Action         *ToastAction           `json:"action,omitempty"`
}

// ToastAction is the clickable part of a toast.
type ToastAction struct {
	Label  string                 `json:"label"`
	Target navigation.RouteTarget `json:"target"`
	run    func(ctx context.Context) error
}

// Invoke performs the navigation bound to the action.
func (a *ToastAction) Invoke(ctx context.Context) error {
	if a == nil || a.run == nil {
		return nil
	}
	return a.run(ctx)
}

// Dispatcher fans a delivered notification out to chime, toast and bus.
type Dispatcher struct {
	chime     Chime
	toaster   Toaster
	navigator Navigator
	bus       *events.Bus
	routes    navigation.Table
	ns        enums.Namespace
	logg      *logger.Logger
}

// DispatcherOptions wires a Dispatcher. Nil collaborators are skipped.
type DispatcherOptions struct {
	Chime     Chime
	Toaster   Toaster
	Navigator Navigator
	Bus       *events.Bus
	Routes    navigation.Table
	Namespace enums.Namespace
	Logger    *logger.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Dispatcher{
		chime:     opts.Chime,
		toaster:   opts.Toaster,
		navigator: opts.Navigator,
		bus:       opts.Bus,
		routes:    opts.Routes,
		ns:        opts.Namespace,
		logg:      logg,
	}
}

// Delivered runs the side effects of an accepted push. Chime failures are
// swallowed.
func (d *Dispatcher) Delivered(ctx context.Context, n Notification) {
	ctx = d.logg.WithNotificationID(ctx, n.ID)

	if d.chime != nil {
		if err := d.chime.Play(ctx); err != nil {
			d.logg.Debug(d.logg.WithField(ctx, "error", err.Error()), "chime failed")
		}
	}

	if d.toaster != nil {
		d.toaster.Show(ctx, d.toastFor(n))
	}

	if d.bus != nil {
		if err := d.bus.Publish(events.Event{
			Name:           events.NotificationReceived,
			Namespace:      d.ns,
			NotificationID: n.ID,
			TypeCode:       n.TypeCode,
			Title:          n.Title,
		}); err != nil {
			d.logg.Error(ctx, "broadcast notification received", err)
		}
	}
}

// Open resolves the notification's deep link and navigates to it.
func (d *Dispatcher) Open(ctx context.Context, n Notification) (navigation.RouteTarget, error) {
	target := navigation.ResolveMetadata(n.Metadata, d.routes)
	if target.Kind == navigation.TargetNone {
		return target, nil
	}
	if d.navigator == nil {
		return target, nil
	}
	if err := d.navigator.Navigate(ctx, target); err != nil {
		return target, fmt.Errorf("navigate to %s: %w", target.String(), err)
	}
	return target, nil
}

func (d *Dispatcher) toastFor(n Notification) Toast {
	toast := Toast{
		NotificationID: n.ID,
		TypeCode:       n.TypeCode,
		Icon:           n.Icon(),
		Title:          n.Title,
		Message:        n.Message,
	}
	if n.ActionURL() == "" {
		return toast
	}
	target := navigation.Resolve(n.ActionURL(), d.routes)
	if target.Kind == navigation.TargetNone {
		return toast
	}
	toast.Action = &ToastAction{
		Label:  "View",
		Target: target,
		run: func(ctx context.Context) error {
			_, err := d.Open(ctx, n)
			return err
		},
	}
	return toast
}

// BellChime writes the terminal bell to w.
type BellChime struct {
	mu sync.Mutex
	w  io.Writer
}

func NewBellChime(w io.Writer) *BellChime {
	return &BellChime{w: w}
}

func (b *BellChime) Play(context.Context) error {
	if b == nil || b.w == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.w.Write([]byte{'\a'})
	return err
}

// LogToaster renders toasts as structured log lines.
type LogToaster struct {
	logg *logger.Logger
}

func NewLogToaster(logg *logger.Logger) *LogToaster {
	return &LogToaster{logg: logg}
}

func (t *LogToaster) Show(ctx context.Context, toast Toast) {
	if t == nil || t.logg == nil {
		return
	}
	fields := map[string]any{
		"type_code": string(toast.TypeCode),
		"icon":      toast.Icon,
		"title":     toast.Title,
		"message":   toast.Message,
	}
	if toast.Action != nil {
		fields["action"] = toast.Action.Target.String()
	}
	t.logg.Info(t.logg.WithFields(ctx, fields), "notification")
}

// LogNavigator records navigation requests in the log.
type LogNavigator struct {
	logg *logger.Logger
}

func NewLogNavigator(logg *logger.Logger) *LogNavigator {
	return &LogNavigator{logg: logg}
}

func (n *LogNavigator) Navigate(ctx context.Context, target navigation.RouteTarget) error {
	if n == nil || n.logg == nil {
		return nil
	}
	n.logg.Info(n.logg.WithFields(ctx, map[string]any{
		"target_kind": string(target.Kind),
		"target":      target.String(),
		"rule":        target.Rule,
	}), "navigate")
	return nil
}
