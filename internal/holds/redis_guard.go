package holds

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zomestaydeveloper/Zomestay/internal/inventory"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/apperrors"
	"github.com/zomestaydeveloper/Zomestay/internal/shared/constants"
)

// Lua script for an all-or-nothing claim of every night of a hold.
const luaClaimNights = `
-- KEYS[1..N] = night keys
-- ARGV[1] = hold_id
-- ARGV[2] = ttl_ms

local hold_id = ARGV[1]
local ttl = tonumber(ARGV[2])

for i = 1, #KEYS do
    local owner = redis.call("GET", KEYS[i])
    if owner and owner ~= hold_id then
        return {0, KEYS[i]}
    end
end

for i = 1, #KEYS do
    redis.call("SET", KEYS[i], hold_id, "PX", ttl)
end

return {1, #KEYS}
`

// Refreshes the TTL of nights still owned by the hold.
const luaExtendNights = `
local extended = 0
for i = 1, #KEYS do
    if redis.call("GET", KEYS[i]) == ARGV[1] then
        redis.call("PEXPIRE", KEYS[i], tonumber(ARGV[2]))
        extended = extended + 1
    end
end
return {1, extended}
`

// Deletes nights still owned by the hold; others are left alone.
const luaReleaseNights = `
local released = 0
for i = 1, #KEYS do
    if redis.call("GET", KEYS[i]) == ARGV[1] then
        redis.call("DEL", KEYS[i])
        released = released + 1
    end
end
return {1, released}
`

// RedisGuard claims nights in Redis with Lua scripts so the check and the
// set happen atomically on the server.
type RedisGuard struct {
	redis   *redis.Client
	claim   *redis.Script
	extend  *redis.Script
	release *redis.Script
	// grace keeps the keys alive a little past the hold so the sweeper, not
	// Redis, decides when a night is free again.
	grace time.Duration
}

func NewRedisGuard(redisClient *redis.Client, grace time.Duration) *RedisGuard {
	return &RedisGuard{
		redis:   redisClient,
		claim:   redis.NewScript(luaClaimNights),
		extend:  redis.NewScript(luaExtendNights),
		release: redis.NewScript(luaReleaseNights),
		grace:   grace,
	}
}

func nightGuardKeys(hold *Hold) []string {
	nights := hold.Range.Nights()
	keys := make([]string, len(nights))
	for i, day := range nights {
		keys[i] = fmt.Sprintf("%snight:%s:%s", constants.HOLD_GUARD_PREFIX, hold.UnitID, inventory.DayKey(day))
	}
	return keys
}

func (g *RedisGuard) Claim(ctx context.Context, hold *Hold, ttl time.Duration) error {
	result, err := g.claim.Run(ctx, g.redis, nightGuardKeys(hold), hold.ID.String(), (ttl + g.grace).Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to execute hold claim: %w", err)
	}
	ok, detail, err := parseScriptResult(result)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: night already held: %v", apperrors.ErrConflict, detail)
	}
	return nil
}

func (g *RedisGuard) Extend(ctx context.Context, hold *Hold, ttl time.Duration) error {
	result, err := g.extend.Run(ctx, g.redis, nightGuardKeys(hold), hold.ID.String(), (ttl + g.grace).Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("failed to execute hold extend: %w", err)
	}
	_, _, err = parseScriptResult(result)
	return err
}

func (g *RedisGuard) Release(ctx context.Context, hold *Hold) error {
	result, err := g.release.Run(ctx, g.redis, nightGuardKeys(hold), hold.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("failed to execute hold release: %w", err)
	}
	_, _, err = parseScriptResult(result)
	return err
}

// PreloadScripts loads the Lua scripts so the first calls hit EVALSHA.
func (g *RedisGuard) PreloadScripts(ctx context.Context) error {
	for name, s := range map[string]*redis.Script{"claim": g.claim, "extend": g.extend, "release": g.release} {
		if err := s.Load(ctx, g.redis).Err(); err != nil {
			return fmt.Errorf("failed to load hold %s script: %w", name, err)
		}
	}
	return nil
}

func parseScriptResult(result interface{}) (bool, interface{}, error) {
	resultArray, ok := result.([]interface{})
	if !ok || len(resultArray) != 2 {
		return false, nil, fmt.Errorf("unexpected result format from Lua script")
	}
	success, ok := resultArray[0].(int64)
	if !ok {
		return false, nil, fmt.Errorf("invalid success flag in Lua script result")
	}
	return success == 1, resultArray[1], nil
}
