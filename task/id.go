package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a task identifier of the form T-YYYYMMDD-XXXXXXXX. The date
// is the UTC creation day so identifiers sort by when they were created.
func NewID(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return "T-" + now.UTC().Format("20060102") + "-" + suffix
}
