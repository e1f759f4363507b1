package instance

import (
	"os"

	"github.com/angelmondragon/fulfillment-backend/pkg/env"
)

// GetID identifies this worker in lock metadata and logs. It prefers
// FULFILLMENT_WORKER_ID, then a pod name, then the hostname.
func GetID() string {
	if id := env.First("", "FULFILLMENT_WORKER_ID", "POD_NAME"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
