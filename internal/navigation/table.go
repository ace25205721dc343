package navigation

import "strings"

// Rule rewrites one action_url pattern. Pattern and Path use ":name"
// placeholders; Query values starting with ":" are filled from the match.
type Rule struct {
	Name    string            `json:"name"`
	Pattern string            `json:"pattern"`
	Path    string            `json:"path"`
	Query   map[string]string `json:"query,omitempty"`
}

// Table is the ordered, auditable deep-link mapping for one namespace.
// First matching rule wins.
type Table struct {
	Prefix           string   `json:"prefix"`
	IncomingPrefixes []string `json:"incoming_prefixes,omitempty"`
	Hosts            []string `json:"hosts,omitempty"`
	Rules            []Rule   `json:"rules"`
}

// WithHosts returns a copy of the table that treats the given hosts as its own.
func (t Table) WithHosts(hosts ...string) Table {
	out := t.clone()
	out.Hosts = append(out.Hosts, hosts...)
	return out
}

func (t Table) clone() Table {
	out := Table{
		Prefix:           t.Prefix,
		IncomingPrefixes: append([]string(nil), t.IncomingPrefixes...),
		Hosts:            append([]string(nil), t.Hosts...),
		Rules:            make([]Rule, len(t.Rules)),
	}
	for i, rule := range t.Rules {
		if rule.Query != nil {
			query := make(map[string]string, len(rule.Query))
			for k, v := range rule.Query {
				query[k] = v
			}
			rule.Query = query
		}
		out.Rules[i] = rule
	}
	return out
}

func (t Table) ownsHost(host string) bool {
	for _, candidate := range t.Hosts {
		if strings.EqualFold(candidate, host) {
			return true
		}
	}
	return false
}

func (t Table) stripIncomingPrefix(path string) string {
	for _, prefix := range t.IncomingPrefixes {
		if path == prefix {
			return "/"
		}
		if strings.HasPrefix(path, prefix+"/") {
			return strings.TrimPrefix(path, prefix)
		}
	}
	return path
}

var entityCollections = map[string]string{
	"refund":       "refunds",
	"subscription": "subscriptions",
	"user":         "users",
	"plan":         "plans",
	"note":         "notes",
}

// AdminTable returns the back-office table. Refund links become a highlight
// on the refunds list rather than a detail page.
func AdminTable() Table { return adminTable.clone() }

// UserTable returns the customer app table. Billing entities live under
// /app/billing.
func UserTable() Table { return userTable.clone() }

var adminTable = Table{
	Prefix:           "/admin",
	IncomingPrefixes: []string{"/admin", "/api/admin"},
	Rules: []Rule{
		{Name: "refund-highlight", Pattern: "/refunds/:id", Path: "/admin/refunds", Query: map[string]string{"highlight": ":id"}},
		{Name: "refund-list", Pattern: "/refunds", Path: "/admin/refunds"},
		{Name: "subscription-highlight", Pattern: "/subscriptions/:id", Path: "/admin/subscriptions", Query: map[string]string{"highlight": ":id"}},
		{Name: "user-detail", Pattern: "/users/:id", Path: "/admin/users/:id"},
		{Name: "plan-edit", Pattern: "/plans/:id", Path: "/admin/plans/:id/edit"},
		{Name: "ai-usage", Pattern: "/ai-usage", Path: "/admin/usage"},
	},
}

var userTable = Table{
	Prefix:           "/app",
	IncomingPrefixes: []string{"/app", "/api"},
	Rules: []Rule{
		{Name: "refund-detail", Pattern: "/refunds/:id", Path: "/app/billing/refunds/:id"},
		{Name: "refund-list", Pattern: "/refunds", Path: "/app/billing/refunds"},
		{Name: "subscription", Pattern: "/subscription", Path: "/app/billing/subscription"},
		{Name: "subscription-detail", Pattern: "/subscriptions/:id", Path: "/app/billing/subscription"},
		{Name: "billing", Pattern: "/billing", Path: "/app/billing"},
		{Name: "ai-usage", Pattern: "/ai-usage", Path: "/app/billing/usage"},
		{Name: "note-detail", Pattern: "/notes/:id", Path: "/app/notes/:id"},
	},
}
