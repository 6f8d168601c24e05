package constants

import (
	"fmt"
	"time"
)

// Redis key layout: zomestay:{module}:{operation}:{identifier}:{params?}

const (
	TTL_REALTIME_SHORT = 30 * time.Second
)

const (
	CACHE_PREFIX = "zomestay"
)

// ================== INVENTORY ==================

const (
	CACHE_KEY_UNIT_AVAILABILITY = CACHE_PREFIX + ":inventory:availability:unit:" // + unit-id:from:to
)

const (
	TTL_UNIT_AVAILABILITY = TTL_REALTIME_SHORT
)

// ================== HOLD GUARD ==================

// Keys written by the hold guard Lua scripts. The scripts build
// "<prefix>night:<unit>:<date>" and "<prefix>hold:<hold-id>" themselves.
const (
	HOLD_GUARD_PREFIX = CACHE_PREFIX + ":holds:"
)

// ================== RATE LIMIT ==================

const (
	RATE_LIMIT_PREFIX = CACHE_PREFIX + ":ratelimit:"
)

func BuildUnitAvailabilityKey(unitID, from, to string) string {
	return fmt.Sprintf("%s%s:from:%s:to:%s", CACHE_KEY_UNIT_AVAILABILITY, unitID, from, to)
}

// BuildUnitAvailabilityPattern matches every cached availability window of a unit.
func BuildUnitAvailabilityPattern(unitID string) string {
	return CACHE_KEY_UNIT_AVAILABILITY + unitID + ":*"
}
