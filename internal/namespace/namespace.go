package namespace

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/angelmondragon/notekeep-notifications/internal/navigation"
	"github.com/angelmondragon/notekeep-notifications/pkg/enums"
)

const (
	userAPIPrefix  = "/api"
	adminAPIPrefix = "/api/admin"

	userTokenKey  = "user_token"
	adminTokenKey = "admin_token"
)

// Context carries everything that differs between the admin and user surfaces.
type Context struct {
	Name      enums.Namespace  `json:"name"`
	BaseURL   string           `json:"base_url"`
	APIPrefix string           `json:"api_prefix"`
	TokenKey  string           `json:"token_key"`
	Routes    navigation.Table `json:"routes"`
}

// For builds the namespace context for ns against baseURL. The backend host is
// registered as an owned host so absolute action URLs pointing at it stay internal.
func For(ns enums.Namespace, baseURL string) (Context, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Context{}, fmt.Errorf("base url is required")
	}

	var ctx Context
	switch ns {
	case enums.NamespaceUser:
		ctx = Context{Name: ns, APIPrefix: userAPIPrefix, TokenKey: userTokenKey, Routes: navigation.UserTable()}
	case enums.NamespaceAdmin:
		ctx = Context{Name: ns, APIPrefix: adminAPIPrefix, TokenKey: adminTokenKey, Routes: navigation.AdminTable()}
	default:
		return Context{}, fmt.Errorf("invalid namespace %q", ns)
	}
	ctx.BaseURL = base
	if host := hostOf(base); host != "" {
		ctx.Routes = ctx.Routes.WithHosts(host)
	}
	return ctx, nil
}

// Endpoint joins a REST path onto the namespace prefix.
func (c Context) Endpoint(path string) string {
	return c.BaseURL + c.APIPrefix + "/" + strings.TrimLeft(path, "/")
}

func hostOf(base string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
