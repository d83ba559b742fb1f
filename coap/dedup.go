package coap

import (
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
)

type dedupKey struct {
	peer string
	mid  int32
}

type dedupEntry struct {
	expires time.Time
	resp    message.Message
	key     dedupKey
}

// dedupCache remembers recent responses by peer and message ID. It is
// not safe for concurrent use; the server lock guards it.
type dedupCache struct {
	entries  map[dedupKey]*dedupEntry
	order    []dedupKey
	max      int
	lifetime time.Duration
}

func newDedupCache(limit int, lifetime time.Duration) *dedupCache {
	return &dedupCache{
		entries:  make(map[dedupKey]*dedupEntry, limit),
		max:      limit,
		lifetime: lifetime,
	}
}

func (c *dedupCache) get(k dedupKey, now time.Time) (message.Message, bool) {
	e, ok := c.entries[k]
	if !ok || now.After(e.expires) {
		return message.Message{}, false
	}
	return e.resp, true
}

func (c *dedupCache) put(k dedupKey, resp message.Message, now time.Time) {
	c.expire(now)
	if _, ok := c.entries[k]; !ok {
		c.order = append(c.order, k)
	}
	c.entries[k] = &dedupEntry{key: k, resp: resp, expires: now.Add(c.lifetime)}
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *dedupCache) expire(now time.Time) {
	n := 0
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok && now.After(e.expires) {
			delete(c.entries, k)
			n++
			continue
		}
		break
	}
	c.order = c.order[n:]
}

func (c *dedupCache) len() int {
	return len(c.entries)
}
