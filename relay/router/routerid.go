package router

import (
	"regexp"
	"strings"

	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// RouterId is Default or Named; named ids match ^[A-Za-z0-9_-]{1,12}$.
type RouterId struct {
	name string
}

var DefaultRouterId = RouterId{}

func (r RouterId) IsDefault() bool { return r.name == "" }

func (r RouterId) String() string {
	if r.name == "" {
		return "default"
	}
	return r.name
}

// metaPathRe captures the /router/{id}[/path][?query] scheme on the raw
// request URI.
var metaPathRe = regexp.MustCompile(`^/router/(?P<id>[A-Za-z0-9_-]{1,12})(?P<path>/[^?]*)?(?P<query>\?.*)?$`)

// ExtractRouterId parses a /router/... request URI into the router id and
// the sub path-and-query handed to the router. Outcomes are exactly:
// a valid id, or a not-found error.
func ExtractRouterId(requestURI string) (RouterId, string, *relaymodel.GatewayError) {
	m := metaPathRe.FindStringSubmatch(requestURI)
	if m == nil {
		return RouterId{}, "", relaymodel.NewNotFound(requestURI)
	}
	id, path, query := m[1], m[2], m[3]

	var rid RouterId
	if !strings.EqualFold(id, "default") {
		rid = RouterId{name: id}
	}

	switch {
	case path != "":
		return rid, path + query, nil
	case query != "":
		// No sub path but a query: the query string is the extracted
		// subpath.
		return rid, query, nil
	default:
		return rid, "/", nil
	}
}
