package api

import "os"

// hostnameOf returns the local machine's hostname, or "" if it cannot be
// determined — used only for the informational GET /api/status payload.
func hostnameOf() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
