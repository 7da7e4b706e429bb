package core

import (
	"fmt"
	"time"
)

// RelativeTime renders how long ago t was, relative to now.
func RelativeTime(now, t time.Time) string {
	secs := int64(now.Sub(t) / time.Second)
	switch {
	case secs < 60:
		return "Just now"
	case secs < 3600:
		return fmt.Sprintf("%d minute(s) ago", secs/60)
	case secs < 86400:
		return fmt.Sprintf("%d hour(s) ago", secs/3600)
	default:
		return fmt.Sprintf("%d day(s) ago", secs/86400)
	}
}
