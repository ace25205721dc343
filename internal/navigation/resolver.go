package navigation

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// TargetKind classifies where a resolved deep-link points.
type TargetKind string

const (
	TargetNone     TargetKind = "none"
	TargetInternal TargetKind = "internal"
	TargetExternal TargetKind = "external"
)

// RouteTarget is a client-side navigation destination.
type RouteTarget struct {
	Kind  TargetKind        `json:"kind"`
	Path  string            `json:"path,omitempty"`
	Query map[string]string `json:"query,omitempty"`
	Href  string            `json:"href,omitempty"`
	Rule  string            `json:"rule,omitempty"`
}

// String renders the target as a navigable location.
func (t RouteTarget) String() string {
	switch t.Kind {
	case TargetExternal:
		return t.Href
	case TargetInternal:
		if len(t.Query) == 0 {
			return t.Path
		}
		values := url.Values{}
		for k, v := range t.Query {
			values.Set(k, v)
		}
		return t.Path + "?" + values.Encode()
	default:
		return ""
	}
}

// Resolve maps a server-supplied action_url onto a route in the table's
// namespace. It is pure: the same input always yields the same target.
func Resolve(actionURL string, table Table) RouteTarget {
	raw := strings.TrimSpace(actionURL)
	if raw == "" {
		return RouteTarget{Kind: TargetNone}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return RouteTarget{Kind: TargetNone}
	}
	if parsed.IsAbs() || parsed.Host != "" {
		if !table.ownsHost(parsed.Hostname()) {
			return RouteTarget{Kind: TargetExternal, Href: parsed.String()}
		}
	}

	path := cleanPath(parsed.Path)
	path = table.stripIncomingPrefix(path)
	incoming := parsed.Query()

	for _, rule := range table.Rules {
		params, ok := match(rule.Pattern, path)
		if !ok {
			continue
		}
		target := RouteTarget{
			Kind: TargetInternal,
			Path: expand(rule.Path, params),
			Rule: rule.Name,
		}
		target.Query = mergeQuery(incoming, rule.Query, params)
		return target
	}

	return RouteTarget{
		Kind:  TargetInternal,
		Path:  joinPrefix(table.Prefix, path),
		Query: mergeQuery(incoming, nil, nil),
		Rule:  "prefix",
	}
}

// ResolveMetadata resolves a notification's metadata: action_url wins, then
// the entity_type/entity_id pair.
func ResolveMetadata(metadata map[string]any, table Table) RouteTarget {
	if metadata == nil {
		return RouteTarget{Kind: TargetNone}
	}
	if actionURL, ok := metadata["action_url"].(string); ok && strings.TrimSpace(actionURL) != "" {
		return Resolve(actionURL, table)
	}
	entityType, _ := metadata["entity_type"].(string)
	entityID := stringify(metadata["entity_id"])
	if entityType == "" || entityID == "" {
		return RouteTarget{Kind: TargetNone}
	}
	collection, ok := entityCollections[strings.ToLower(strings.TrimSpace(entityType))]
	if !ok {
		return RouteTarget{Kind: TargetNone}
	}
	return Resolve("/"+collection+"/"+url.PathEscape(entityID), table)
}

func match(pattern, path string) (map[string]string, bool) {
	want := splitPath(pattern)
	got := splitPath(path)
	if len(want) != len(got) {
		return nil, false
	}
	params := map[string]string{}
	for i, segment := range want {
		if strings.HasPrefix(segment, ":") {
			if got[i] == "" {
				return nil, false
			}
			params[segment[1:]] = got[i]
			continue
		}
		if segment != got[i] {
			return nil, false
		}
	}
	return params, true
}

func expand(template string, params map[string]string) string {
	segments := splitPath(template)
	for i, segment := range segments {
		if strings.HasPrefix(segment, ":") {
			segments[i] = params[segment[1:]]
		}
	}
	return "/" + strings.Join(segments, "/")
}

func mergeQuery(incoming url.Values, ruleQuery map[string]string, params map[string]string) map[string]string {
	if len(incoming) == 0 && len(ruleQuery) == 0 {
		return nil
	}
	out := make(map[string]string, len(incoming)+len(ruleQuery))
	keys := make([]string, 0, len(incoming))
	for k := range incoming {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = incoming.Get(k)
	}
	for k, v := range ruleQuery {
		if strings.HasPrefix(v, ":") {
			v = params[v[1:]]
		}
		out[k] = v
	}
	return out
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}

func cleanPath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func joinPrefix(prefix, path string) string {
	if prefix == "" || path == prefix || strings.HasPrefix(path, prefix+"/") {
		return path
	}
	if path == "/" {
		return prefix
	}
	return prefix + path
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
