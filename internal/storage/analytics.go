package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

const (
	prefixSeen    = "tel/seen/"
	prefixCounter = "tel/cnt/"
)

// counterPrefix is "tel/cnt/<release>/<interval>/".
func counterPrefix(releaseID string, interval domain.Interval) string {
	return prefixCounter + releaseID + "/" + string(interval) + "/"
}

// counterKey is counterPrefix + "<bucket unix seconds, 12 digits>/<counter>".
func counterKey(inc domain.CounterIncrement) []byte {
	return []byte(fmt.Sprintf("%s%012d/%s",
		counterPrefix(inc.ReleaseID, inc.Interval), inc.Bucket.Unix(), inc.Counter))
}

// AnalyticsStore keeps deduplicated telemetry counters in a KVEngine.
type AnalyticsStore struct {
	kv KVEngine
}

// NewAnalyticsStore creates an analytics store over kv.
func NewAnalyticsStore(kv KVEngine) *AnalyticsStore {
	return &AnalyticsStore{kv: kv}
}

// RecordEvent applies incs unless dedupKey was already recorded. The seen
// marker and the increments commit together. It reports whether the event
// was counted.
func (s *AnalyticsStore) RecordEvent(ctx context.Context, dedupKey string, ttl time.Duration, incs []domain.CounterIncrement) (bool, error) {
	recorded := false
	err := s.kv.Update(ctx, func(tx Txn) error {
		seen := []byte(prefixSeen + dedupKey)
		if _, err := tx.Get(seen); err == nil {
			return nil
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}

		stamp := binary.BigEndian.AppendUint64(nil, uint64(nowMillis()))
		var err error
		if ttl > 0 {
			err = tx.SetWithTTL(seen, stamp, ttl)
		} else {
			err = tx.Set(seen, stamp)
		}
		if err != nil {
			return err
		}

		for _, inc := range incs {
			if err := addCounter(tx, counterKey(inc), inc.Delta); err != nil {
				return err
			}
		}
		recorded = true
		return nil
	})
	return recorded, err
}

func addCounter(tx Txn, key []byte, delta uint64) error {
	var current uint64
	data, err := tx.Get(key)
	switch {
	case err == nil:
		if len(data) != 8 {
			return fmt.Errorf("counter %s: corrupt value", key)
		}
		current = binary.BigEndian.Uint64(data)
	case errors.Is(err, ErrKeyNotFound):
	default:
		return err
	}
	return tx.Set(key, binary.BigEndian.AppendUint64(nil, current+delta))
}

// QueryCounters returns the buckets of releaseID within [from, to) in time
// order. Buckets without data are omitted.
func (s *AnalyticsStore) QueryCounters(ctx context.Context, releaseID string, interval domain.Interval, from, to time.Time) ([]domain.CounterBucket, error) {
	prefix := counterPrefix(releaseID, interval)
	var (
		buckets []domain.CounterBucket
		index   = make(map[int64]int)
		bad     error
	)

	err := s.kv.Scan(ctx, []byte(prefix), func(key, value []byte) bool {
		bucketPart, counter, ok := strings.Cut(trimPrefix(key, prefix), "/")
		if !ok || len(value) != 8 {
			bad = fmt.Errorf("counter %s: malformed entry", key)
			return false
		}
		unix, err := strconv.ParseInt(bucketPart, 10, 64)
		if err != nil {
			bad = fmt.Errorf("counter %s: %w", key, err)
			return false
		}
		start := time.Unix(unix, 0).UTC()
		if start.Before(from) || !start.Before(to) {
			return true
		}

		i, seen := index[unix]
		if !seen {
			i = len(buckets)
			index[unix] = i
			buckets = append(buckets, domain.CounterBucket{Bucket: start})
		}
		if err := buckets[i].Counters.Add(counter, binary.BigEndian.Uint64(value)); err != nil {
			bad = err
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return buckets, bad
}
