package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ehr/integrator/internal/platform/db"
)

// NewClient connects to the Redis server at url and verifies it responds.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Check probes Redis for the health endpoint.
func Check(client redis.UniversalClient) db.Check {
	return db.Check{
		Name: "redis",
		Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
	}
}

// Keys builds the Redis key layout for cached records:
//
//	{prefix}:rec:{kind}:{cacheKey}             hash with payload, facility, demographic
//	{prefix}:idx:fac:{kind}:{facility}         set of cache keys
//	{prefix}:idx:pat:{kind}:{facility}:{demo}  set of cache keys
type Keys struct {
	Prefix string
}

func (k Keys) Record(kind, cacheKey string) string {
	return k.Prefix + ":rec:" + kind + ":" + cacheKey
}

func (k Keys) FacilityIndex(kind string, facilityID int) string {
	return k.Prefix + ":idx:fac:" + kind + ":" + strconv.Itoa(facilityID)
}

func (k Keys) PatientIndex(kind string, facilityID, demographicID int) string {
	return k.Prefix + ":idx:pat:" + kind + ":" + strconv.Itoa(facilityID) + ":" + strconv.Itoa(demographicID)
}
