package events

import "github.com/angelmondragon/notekeep-notifications/pkg/enums"

// TypeCodeWatcher invokes fn for every received notification whose type code
// satisfies match. Call Stop to detach.
type TypeCodeWatcher struct {
	stop func()
}

// WatchTypeCodes subscribes to notification.received on bus.
func WatchTypeCodes(bus *Bus, match func(enums.NotificationType) bool, fn func(Event)) *TypeCodeWatcher {
	if bus == nil || match == nil || fn == nil {
		return &TypeCodeWatcher{stop: func() {}}
	}
	stop := bus.Subscribe(NotificationReceived, func(ev Event) {
		if match(ev.TypeCode) {
			fn(ev)
		}
	})
	return &TypeCodeWatcher{stop: stop}
}

// Codes builds a matcher for an explicit set of type codes.
func Codes(codes ...enums.NotificationType) func(enums.NotificationType) bool {
	set := make(map[enums.NotificationType]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return func(code enums.NotificationType) bool {
		_, ok := set[code]
		return ok
	}
}

// Stop detaches the watcher. Safe to call more than once.
func (w *TypeCodeWatcher) Stop() {
	w.stop()
}
