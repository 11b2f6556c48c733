package upload

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateKey returns a unique object key of the form
// YYYY/MM/DD/<uuid>.raw, dated by now in UTC.
func GenerateKey(now time.Time) string {
	now = now.UTC()
	datePath := fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day())
	return fmt.Sprintf("%s/%s.raw", datePath, uuid.New().String())
}
