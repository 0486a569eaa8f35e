package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tasktracker/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	dashboardKeyPrefix    = "tasktracker:dashboard:"
	dashboardGenKeyPrefix = "tasktracker:dashboard:gen:"
)

// setIfGenerationLua 仅当代数未变化时写入快照。
// KEYS[1] 代数键, KEYS[2] 快照键; ARGV[1] 读取时的代数, ARGV[2] 快照, ARGV[3] TTL 毫秒
const setIfGenerationLua = `
local cur = redis.call("GET", KEYS[1]) or "0"
if cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`

// DashboardCache stores per-owner dashboard snapshots as JSON. Writes for an
// owner must call Invalidate so a cached snapshot never outlives a change.
//
// Each owner also has a generation counter bumped by Invalidate. A snapshot
// read at generation g is only stored while the counter is still g, so an
// aggregate computed before a concurrent write can not be cached after it.
type DashboardCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	script *redis.Script
}

// NewDashboardCache returns nil when ttl <= 0, which disables caching.
func NewDashboardCache(rdb *redis.Client, ttl time.Duration) *DashboardCache {
	if rdb == nil || ttl <= 0 {
		return nil
	}
	return &DashboardCache{rdb: rdb, ttl: ttl, script: redis.NewScript(setIfGenerationLua)}
}

func dashboardKey(ownerID uint) string {
	return dashboardKeyPrefix + strconv.FormatUint(uint64(ownerID), 10)
}

func generationKey(ownerID uint) string {
	return dashboardGenKeyPrefix + strconv.FormatUint(uint64(ownerID), 10)
}

// Get returns the cached snapshot, whether it was present, and the owner's
// current generation to pass back to Set on a miss.
func (c *DashboardCache) Get(ctx context.Context, ownerID uint) (*model.DashboardSnapshot, int64, bool, error) {
	if c == nil {
		return nil, 0, false, nil
	}
	vals, err := c.rdb.MGet(ctx, generationKey(ownerID), dashboardKey(ownerID)).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("dashboard cache get: %w", err)
	}
	if len(vals) != 2 {
		return nil, 0, false, fmt.Errorf("dashboard cache get: unexpected reply")
	}

	var gen int64
	if s, ok := vals[0].(string); ok {
		gen, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, 0, false, fmt.Errorf("dashboard cache generation: %w", err)
		}
	}
	raw, ok := vals[1].(string)
	if !ok {
		return nil, gen, false, nil
	}
	var snap model.DashboardSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, gen, false, fmt.Errorf("dashboard cache decode: %w", err)
	}
	return &snap, gen, true, nil
}

// Set stores snap if the owner's generation still equals gen. It reports
// whether the snapshot was stored.
func (c *DashboardCache) Set(ctx context.Context, ownerID uint, gen int64, snap *model.DashboardSnapshot) (bool, error) {
	if c == nil || snap == nil {
		return false, nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("dashboard cache encode: %w", err)
	}
	keys := []string{generationKey(ownerID), dashboardKey(ownerID)}
	stored, err := c.script.Run(ctx, c.rdb, keys, strconv.FormatInt(gen, 10), raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("dashboard cache set: %w", err)
	}
	return stored == 1, nil
}

// Invalidate bumps the owner's generation and drops the cached snapshot.
func (c *DashboardCache) Invalidate(ctx context.Context, ownerID uint) error {
	if c == nil {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(ownerID))
		pipe.Del(ctx, dashboardKey(ownerID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("dashboard cache del: %w", err)
	}
	return nil
}
