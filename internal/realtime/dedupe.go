package realtime

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Dedupe drops events whose (table, id) was already delivered within ttl.
// Wrap handlers with it when repeated rows after a reconnect are not tolerable.
// Rows without an id column always pass through.
func Dedupe(next Handler, ttl time.Duration) Handler {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	seen := cache.New(ttl, 2*ttl)
	return func(ev Event) {
		id := ev.RowID()
		if id != "" {
			// Add fails when the key is already present and unexpired.
			if err := seen.Add(ev.Table+":"+id, struct{}{}, cache.DefaultExpiration); err != nil {
				return
			}
		}
		next(ev)
	}
}
