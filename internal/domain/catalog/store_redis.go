package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/cache"
)

const (
	fieldPayload     = "payload"
	fieldFacility    = "facility"
	fieldDemographic = "demographic"
)

// storeRedis keeps each record in a hash and maintains per-facility and
// per-patient sets of cache keys for the list queries.
type storeRedis struct {
	client redis.UniversalClient
	keys   cache.Keys
}

func NewStoreRedis(client redis.UniversalClient, prefix string) Store {
	return &storeRedis{client: client, keys: cache.Keys{Prefix: prefix}}
}

type redisOwner struct {
	facilityID    int
	demographicID int
}

// owner reads the facility and patient indexed for an existing record.
// hashReader is satisfied by both the client and a *redis.Tx.
type hashReader interface {
	HMGet(ctx context.Context, key string, fields ...string) *redis.SliceCmd
}

func (s *storeRedis) owner(ctx context.Context, c hashReader, recKey string) (redisOwner, bool, error) {
	vals, err := c.HMGet(ctx, recKey, fieldFacility, fieldDemographic).Result()
	if err != nil {
		return redisOwner{}, false, err
	}
	if vals[0] == nil {
		return redisOwner{}, false, nil
	}
	var o redisOwner
	o.facilityID, _ = strconv.Atoi(fmt.Sprint(vals[0]))
	if vals[1] != nil {
		o.demographicID, _ = strconv.Atoi(fmt.Sprint(vals[1]))
	}
	return o, true, nil
}

func (s *storeRedis) Load(ctx context.Context, kind Kind, key cachekey.Key) (Record, error) {
	payload, err := s.client.HGet(ctx, s.keys.Record(string(kind), key.String()), fieldPayload).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return Decode(kind, payload)
}

func (s *storeRedis) unindex(ctx context.Context, pipe redis.Pipeliner, kind Kind, cacheKey string, o redisOwner) {
	pipe.SRem(ctx, s.keys.FacilityIndex(string(kind), o.facilityID), cacheKey)
	if o.demographicID > 0 {
		pipe.SRem(ctx, s.keys.PatientIndex(string(kind), o.facilityID, o.demographicID), cacheKey)
	}
}

func (s *storeRedis) write(ctx context.Context, pipe redis.Pipeliner, rec Record, payload []byte) {
	kind := string(rec.Kind())
	cacheKey := rec.CacheKey().String()
	facilityID := rec.CacheKey().SourceFacility()

	pipe.HSet(ctx, s.keys.Record(kind, cacheKey),
		fieldPayload, payload,
		fieldFacility, facilityID,
		fieldDemographic, rec.PatientID())
	pipe.SAdd(ctx, s.keys.FacilityIndex(kind, facilityID), cacheKey)
	if d := rec.PatientID(); d > 0 {
		pipe.SAdd(ctx, s.keys.PatientIndex(kind, facilityID, d), cacheKey)
	}
}

func (s *storeRedis) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Kind(), err)
	}
	cacheKey := rec.CacheKey().String()
	recKey := s.keys.Record(string(rec.Kind()), cacheKey)

	err = s.watch(ctx, func(tx *redis.Tx) error {
		prev, found, err := s.owner(ctx, tx, recKey)
		if err != nil {
			return fmt.Errorf("read %s %s: %w", rec.Kind(), cacheKey, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if found && prev.demographicID != rec.PatientID() {
				s.unindex(ctx, pipe, rec.Kind(), cacheKey, prev)
			}
			s.write(ctx, pipe, rec, payload)
			return nil
		})
		return err
	}, recKey)
	if err != nil {
		return fmt.Errorf("save %s %s: %w", rec.Kind(), cacheKey, err)
	}
	return nil
}

func (s *storeRedis) Delete(ctx context.Context, kind Kind, key cachekey.Key) error {
	recKey := s.keys.Record(string(kind), key.String())
	return s.watch(ctx, func(tx *redis.Tx) error {
		prev, found, err := s.owner(ctx, tx, recKey)
		if err != nil || !found {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recKey)
			s.unindex(ctx, pipe, kind, key.String(), prev)
			return nil
		})
		return err
	}, recKey)
}

// loadMembers fetches the payload of every cache key in index. Keys whose
// record has gone are skipped.
func (s *storeRedis) loadMembers(ctx context.Context, kind Kind, index string) ([]Record, error) {
	members, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGet(ctx, s.keys.Record(string(kind), m), fieldPayload)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []Record
	for _, cmd := range cmds {
		payload, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rec, err := Decode(kind, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *storeRedis) FindByFacilityAndPatient(ctx context.Context, kind Kind, facilityID, demographicID int) ([]Record, error) {
	return s.loadMembers(ctx, kind, s.keys.PatientIndex(string(kind), facilityID, demographicID))
}

func (s *storeRedis) FindByFacility(ctx context.Context, kind Kind, facilityID int) ([]Record, error) {
	return s.loadMembers(ctx, kind, s.keys.FacilityIndex(string(kind), facilityID))
}

// maxWatchAttempts bounds the optimistic retries of a write when a
// concurrent writer touches a watched key.
const maxWatchAttempts = 16

// watch runs fn under WATCH on keys, retrying while the transaction is
// aborted by a conflicting write.
func (s *storeRedis) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *storeRedis) ReplacePatient(ctx context.Context, kind Kind, facilityID, demographicID int, recs []Record) error {
	payloads := make([][]byte, len(recs))
	for i, rec := range recs {
		p, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", rec.Kind(), err)
		}
		payloads[i] = p
	}

	patientIdx := s.keys.PatientIndex(string(kind), facilityID, demographicID)
	watched := make([]string, 0, len(recs)+1)
	watched = append(watched, patientIdx)
	for _, rec := range recs {
		watched = append(watched, s.keys.Record(string(kind), rec.CacheKey().String()))
	}
	owner := redisOwner{facilityID: facilityID, demographicID: demographicID}

	// Reads happen under WATCH so a concurrent save or replace of the same
	// patient or records aborts the MULTI instead of leaving stale index
	// entries behind.
	txf := func(tx *redis.Tx) error {
		moved := make(map[string]redisOwner)
		for _, rec := range recs {
			cacheKey := rec.CacheKey().String()
			prev, found, err := s.owner(ctx, tx, s.keys.Record(string(kind), cacheKey))
			if err != nil {
				return fmt.Errorf("read %s %s: %w", kind, cacheKey, err)
			}
			if found && prev.demographicID != demographicID {
				moved[cacheKey] = prev
			}
		}
		current, err := tx.SMembers(ctx, patientIdx).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range current {
				pipe.Del(ctx, s.keys.Record(string(kind), m))
				s.unindex(ctx, pipe, kind, m, owner)
			}
			for m, prev := range moved {
				s.unindex(ctx, pipe, kind, m, prev)
			}
			for i, rec := range recs {
				s.write(ctx, pipe, rec, payloads[i])
			}
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, watched...); err != nil {
		return fmt.Errorf("replace %s for patient %d:%d: %w", kind, facilityID, demographicID, err)
	}
	return nil
}
