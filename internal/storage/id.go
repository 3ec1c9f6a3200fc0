package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a monotonic-prefixed token: epoch millis followed by a
// short random suffix. Insertion order is recoverable lexicographically
// across milliseconds; the suffix keeps rapid successive calls unique.
func GenerateID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
