package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	"github.com/angelmondragon/notekeep-notifications/internal/usage"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// UsageReader serves the cached subscription usage document.
type UsageReader interface {
	Snapshot() usage.Snapshot
	Refresh(ctx context.Context) error
}

// GetUsage returns the cached usage document, fetching it first when it has
// never been loaded.
func GetUsage(cache UsageReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cache == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "usage is not tracked for this namespace"))
			return
		}
		snap := cache.Snapshot()
		if snap.FetchedAt.IsZero() {
			if err := cache.Refresh(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			snap = cache.Snapshot()
		}
		responses.WriteSuccess(w, snap)
	}
}
