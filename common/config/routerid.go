package config

import "regexp"

// routerIdRe matches the ids accepted in the routers section. The literal
// "default" (any case) names the default router.
var routerIdRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,12}$`)

// ValidRouterId reports whether id is acceptable as a configured router id.
func ValidRouterId(id string) bool {
	return routerIdRe.MatchString(id)
}
