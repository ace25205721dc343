package controllers

import (
	"net/http"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	"github.com/angelmondragon/notekeep-notifications/api/validators"
	"github.com/angelmondragon/notekeep-notifications/internal/navigation"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

const maxActionURLLen = 2048

// ResolveNavigation maps an action_url onto the namespace's route table.
func ResolveNavigation(table navigation.Table, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := validators.RequireQuery(r, "url", maxActionURLLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target := navigation.Resolve(raw, table)
		responses.WriteSuccess(w, map[string]any{
			"target":   target,
			"location": target.String(),
		})
	}
}

// ListRoutes exposes the deep-link table for audit.
func ListRoutes(table navigation.Table) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, table)
	}
}
