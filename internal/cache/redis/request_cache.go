package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

const defaultRequestTTL = 10 * time.Minute

// setIfCurrentLua writes the document only when its version is not older
// than the newest version recorded for the id, then records it.
// KEYS[1]: document, KEYS[2]: version; ARGV[1]: version, ARGV[2]: JSON, ARGV[3]: ttl ms
const setIfCurrentLua = `
local seen = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < seen then
    return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[3])
return 1
`

// invalidateLua drops the document and raises the recorded version.
// KEYS[1]: document, KEYS[2]: version; ARGV[1]: version, ARGV[2]: ttl ms
const invalidateLua = `
redis.call('DEL', KEYS[1])
local seen = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > seen then
    seen = tonumber(ARGV[1])
end
redis.call('SET', KEYS[2], seen, 'PX', ARGV[2])
return 1
`

// RequestCache implements domain.RequestCache, storing each request as a
// JSON document with a TTL next to the newest version seen for it. The
// service invalidates on every committed transition, so the TTL only bounds
// staleness after a missed invalidation.
type RequestCache struct {
	c          *Client
	ttl        time.Duration
	set        *redis.Script
	invalidate *redis.Script
}

// NewRequestCache creates a RequestCache. A zero ttl uses ten minutes.
func NewRequestCache(c *Client, ttl time.Duration) *RequestCache {
	if ttl <= 0 {
		ttl = defaultRequestTTL
	}
	return &RequestCache{
		c:          c,
		ttl:        ttl,
		set:        redis.NewScript(setIfCurrentLua),
		invalidate: redis.NewScript(invalidateLua),
	}
}

func (rc *RequestCache) requestKey(id int64) string {
	return rc.c.key("request", strconv.FormatInt(id, 10))
}

func (rc *RequestCache) versionKey(id int64) string {
	return rc.c.key("request", strconv.FormatInt(id, 10), "version")
}

// Set stores req under its ID unless a newer version was already seen.
func (rc *RequestCache) Set(ctx context.Context, req domain.InsuranceRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("redis: marshal request %d: %w", req.ID, err)
	}
	keys := []string{rc.requestKey(req.ID), rc.versionKey(req.ID)}
	if err := rc.set.Run(ctx, rc.c.rdb, keys, req.Version, data, rc.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis: set request %d: %w", req.ID, err)
	}
	return nil
}

// Get returns the cached request or domain.ErrNotFound on a miss.
func (rc *RequestCache) Get(ctx context.Context, id int64) (domain.InsuranceRequest, error) {
	data, err := rc.c.rdb.Get(ctx, rc.requestKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.InsuranceRequest{}, domain.ErrNotFound
		}
		return domain.InsuranceRequest{}, fmt.Errorf("redis: get request %d: %w", id, err)
	}
	var req domain.InsuranceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.InsuranceRequest{}, fmt.Errorf("redis: unmarshal request %d: %w", id, err)
	}
	return req, nil
}

// Invalidate drops the cached copy of id and records version so a slower
// reader cannot cache an older projection afterwards.
func (rc *RequestCache) Invalidate(ctx context.Context, id int64, version int64) error {
	keys := []string{rc.requestKey(id), rc.versionKey(id)}
	if err := rc.invalidate.Run(ctx, rc.c.rdb, keys, version, rc.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("redis: invalidate request %d: %w", id, err)
	}
	return nil
}

var _ domain.RequestCache = (*RequestCache)(nil)
