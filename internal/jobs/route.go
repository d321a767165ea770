package jobs

import "strings"

// ParseSessionRoute extracts the session ID and action from a path like
// /sessions/{id}/{action}. apiPrefix should be like "/sessions/".
func ParseSessionRoute(path, apiPrefix string) (sessionID, action string, ok bool) {
	if !strings.HasPrefix(path, apiPrefix) {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
