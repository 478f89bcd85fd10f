package instance

import (
	"os"
	"strings"
)

// GetID names the running process in logs. SUPERMARKET_WORKER_ID wins, then
// the platform dyno name, then the hostname.
func GetID() string {
	for _, key := range []string{"SUPERMARKET_WORKER_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
