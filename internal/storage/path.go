package storage

import (
	"fmt"
	"strings"
)

// ArchivePath returns the object path for one attempt's payload:
// <prefix>/<targetHash>/<attemptID>.json.
func ArchivePath(prefix, targetHash, attemptID string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", targetHash, attemptID)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, targetHash, attemptID)
}
