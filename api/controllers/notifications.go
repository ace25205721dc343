package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	"github.com/angelmondragon/notekeep-notifications/api/validators"
	"github.com/angelmondragon/notekeep-notifications/internal/navigation"
	"github.com/angelmondragon/notekeep-notifications/internal/notifications"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

const maxPageSize = 100

// NotificationsService is the reconciler surface the presentation API reads
// and mutates.
type NotificationsService interface {
	Snapshot() notifications.Snapshot
	Find(id string) (notifications.Notification, bool)
	FetchList(ctx context.Context, limit, offset int) error
	FetchUnreadCount(ctx context.Context) error
	MarkAsRead(ctx context.Context, id string) error
	MarkAllAsRead(ctx context.Context) error
}

// Opener resolves and follows a notification's deep link.
type Opener interface {
	Open(ctx context.Context, n notifications.Notification) (navigation.RouteTarget, error)
}

type notificationView struct {
	notifications.Notification
	Icon      string `json:"icon"`
	ActionURL string `json:"action_url,omitempty"`
}

type notificationsResponse struct {
	Items       []notificationView `json:"items"`
	UnreadCount int                `json:"unread_count"`
	Stale       bool               `json:"stale,omitempty"`
}

func toResponse(snap notifications.Snapshot, unreadOnly bool) notificationsResponse {
	out := notificationsResponse{Items: make([]notificationView, 0, len(snap.Items)), UnreadCount: snap.UnreadCount}
	for _, n := range snap.Items {
		if unreadOnly && n.IsRead {
			continue
		}
		out.Items = append(out.Items, notificationView{Notification: n, Icon: n.Icon(), ActionURL: n.ActionURL()})
	}
	return out
}

// ListNotifications returns the reconciled snapshot. It never calls the server.
func ListNotifications(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toResponse(svc.Snapshot(), unreadOnly))
	}
}

// RefreshNotifications re-fetches the list and the unread counter, as when
// the dropdown is opened. Fetch failures leave the previous state in place and
// are reported through the stale flag rather than an error status.
func RefreshNotifications(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, maxPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1<<20)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listErr := svc.FetchList(r.Context(), limit, offset)
		countErr := svc.FetchUnreadCount(r.Context())

		resp := toResponse(svc.Snapshot(), false)
		resp.Stale = listErr != nil || countErr != nil
		responses.WriteSuccess(w, resp)
	}
}

// MarkNotificationRead marks a single notification read on the server first.
func MarkNotificationRead(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "notificationId"))
		if id == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "notification id required"))
			return
		}
		if err := svc.MarkAsRead(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"read": true, "unread_count": svc.Snapshot().UnreadCount})
	}
}

// MarkAllNotificationsRead marks every notification read on the server first.
func MarkAllNotificationsRead(svc NotificationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		if err := svc.MarkAllAsRead(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"read": true, "unread_count": 0})
	}
}

// OpenNotification is the dropdown click: mark read (best effort) and follow
// the deep link.
func OpenNotification(svc NotificationsService, opener Opener, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || opener == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
			return
		}
		id := strings.TrimSpace(chi.URLParam(r, "notificationId"))
		if id == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "notification id required"))
			return
		}
		n, ok := svc.Find(id)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithNotificationID(ctx, id)
		}
		read := n.IsRead
		if !read {
			if err := svc.MarkAsRead(ctx, id); err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "open notification: mark read failed")
				}
			} else {
				read = true
			}
		}

		target, err := opener.Open(ctx, n)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "navigation failed"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"read":     read,
			"target":   target,
			"location": target.String(),
		})
	}
}
