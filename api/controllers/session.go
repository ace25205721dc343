package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/notekeep-notifications/api/responses"
	"github.com/angelmondragon/notekeep-notifications/api/validators"
	pkgerrors "github.com/angelmondragon/notekeep-notifications/pkg/errors"
	"github.com/angelmondragon/notekeep-notifications/pkg/logger"
)

// TokenStore persists the namespace bearer credential.
type TokenStore interface {
	Key() string
	Save(token string) error
	Delete() error
}

type setTokenRequest struct {
	Token string `json:"token" validate:"required,max=8192"`
}

// SetSessionToken stores a new bearer credential and reconnects the push
// channel so it is used immediately.
func SetSessionToken(base context.Context, store TokenStore, rt RealtimeControl, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setTokenRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		token, err := validators.NormalizeBearer(req.Token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid token"))
			return
		}
		if err := store.Save(token); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store token"))
			return
		}
		if rt != nil {
			rt.Disconnect()
			rt.Connect(base)
		}
		if logg != nil {
			logg.Info(logg.WithField(r.Context(), "token_key", store.Key()), "session token stored")
		}
		responses.WriteSuccess(w, map[string]any{"stored": true, "key": store.Key()})
	}
}

// DeleteSessionToken removes the stored credential and closes the push channel.
func DeleteSessionToken(store TokenStore, rt RealtimeControl, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Delete(); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete token"))
			return
		}
		if rt != nil {
			rt.Disconnect()
		}
		responses.WriteSuccess(w, map[string]any{"deleted": true, "key": store.Key()})
	}
}
