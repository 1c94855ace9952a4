package anpr

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	dedupBucketSec = 5
	dedupTTL       = 30 * time.Second
	dedupMaxKeys   = 4096
)

// Dedup suppresses repeat reads of the same plate within a short window.
// Keys bucket the timestamp to 5 seconds so a vehicle sitting in frame
// across consecutive samples produces one event, not a stream of them.
type Dedup struct {
	cache *lru.Cache[string, time.Time]
	ttl   time.Duration
}

func NewDedup() *Dedup {
	c, _ := lru.New[string, time.Time](dedupMaxKeys)
	return &Dedup{cache: c, ttl: dedupTTL}
}

// IsDuplicate records the read and reports whether an equivalent read was
// already seen within the TTL.
func (d *Dedup) IsDuplicate(plate string, at time.Time) bool {
	key := dedupKey(plate, at)
	if addedAt, ok := d.cache.Get(key); ok {
		if time.Since(addedAt) < d.ttl {
			return true
		}
	}
	d.cache.Add(key, time.Now())
	return false
}

func dedupKey(plate string, at time.Time) string {
	return fmt.Sprintf("%s|%d", plate, at.Unix()/dedupBucketSec)
}
