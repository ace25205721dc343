package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	"github.com/angelmondragon/notekeep-notifications/internal/realtime"
)

// RealtimeControl is the push channel surface the API drives.
type RealtimeControl interface {
	StatusReporter
	Connect(ctx context.Context)
	Disconnect()
}

func RealtimeStatus(rt StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := realtime.Status{State: realtime.StateIdle}
		if rt != nil {
			status = rt.Status()
		}
		responses.WriteSuccess(w, status)
	}
}

// RealtimeConnect restarts the push channel after a give-up. The channel
// outlives the request, so it is bound to base rather than the request context.
func RealtimeConnect(base context.Context, rt RealtimeControl) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if rt == nil {
			responses.WriteSuccessStatus(w, http.StatusAccepted, realtime.Status{State: realtime.StateIdle})
			return
		}
		rt.Connect(base)
		responses.WriteSuccessStatus(w, http.StatusAccepted, rt.Status())
	}
}
