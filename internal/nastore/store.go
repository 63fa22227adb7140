// Package nastore provides a key/value namespace where every value may carry
// an absolute expiry. Values are persisted by a Backend as a small JSON record
// like `{"value":...,"expires":1668000000000}` and expired records are treated
// as absent and evicted lazily on read.
package nastore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/util/randutil"
)

var ErrKeyNotFound = errors.New("key not found")

// Backend is a raw persistent namespace of byte values. It knows nothing about
// expiry.
type Backend interface {
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, data []byte) error
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// record is the persisted format. Expires is milliseconds since the epoch and
// is omitted for values that never expire.
type record struct {
	Value   json.RawMessage `json:"value"`
	Expires int64           `json:"expires,omitempty"`
}

type ExpiringStore struct {
	backend Backend
	logger  *logrus.Logger
	timeNow func() time.Time
}

func NewExpiringStore(logger *logrus.Logger, backend Backend) *ExpiringStore {
	return &ExpiringStore{
		backend: backend,
		logger:  logger,
		timeNow: time.Now,
	}
}

// SetTimeNow overrides the store's clock. Used in tests.
func (s *ExpiringStore) SetTimeNow(timeNow func() time.Time) {
	s.timeNow = timeNow
}

// Set stores value under key, overwriting whatever was there. A ttl of zero or
// less means the value never expires.
func (s *ExpiringStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	valueData, err := json.Marshal(value)
	if err != nil {
		return xerrors.Errorf("error encoding value for key %q: %w", key, err)
	}

	rec := record{Value: valueData}
	if ttl > 0 {
		rec.Expires = s.timeNow().Add(ttl).UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Errorf("error encoding record for key %q: %w", key, err)
	}

	if err := s.backend.SetItem(ctx, key, data); err != nil {
		return xerrors.Errorf("error setting key %q: %w", key, err)
	}

	return nil
}

// Get decodes the live value under key into dst. It returns false without an
// error when the key is absent, expired, or holds data that can't be decoded.
// An expired record is removed as a side effect.
func (s *ExpiringStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := s.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Debugf("nastore: Ignoring undecodable value for key %q: %v", key, err)
		return false, nil
	}

	return true, nil
}

// GetRaw is like Get, but returns the value still encoded.
func (s *ExpiringStore) GetRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, _, err := s.load(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return raw, raw != nil, nil
}

// Loads the live value under key, returning a nil value if there isn't one and
// whether the read evicted an expired record.
func (s *ExpiringStore) load(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := s.backend.GetItem(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, false, nil
		}

		return nil, false, xerrors.Errorf("error getting key %q: %w", key, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || rec.Value == nil {
		// Corrupt or foreign data is treated as absence, but left in place.
		return nil, false, nil
	}

	if rec.Expires != 0 && s.timeNow().UnixMilli() > rec.Expires {
		s.logger.WithFields(logrus.Fields{
			"key":     key,
			"expires": time.UnixMilli(rec.Expires).UTC(),
		}).Infof("nastore: Evicting expired key %q", key)

		if err := s.backend.RemoveItem(ctx, key); err != nil {
			return nil, false, xerrors.Errorf("error evicting expired key %q: %w", key, err)
		}

		return nil, true, nil
	}

	return rec.Value, false, nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *ExpiringStore) Remove(ctx context.Context, key string) error {
	if err := s.backend.RemoveItem(ctx, key); err != nil {
		return xerrors.Errorf("error removing key %q: %w", key, err)
	}
	return nil
}

// ClearAll deletes every key in the store's namespace.
func (s *ExpiringStore) ClearAll(ctx context.Context) error {
	if err := s.backend.Clear(ctx); err != nil {
		return xerrors.Errorf("error clearing store: %w", err)
	}
	return nil
}

// GetAllLive returns every value that hasn't expired, evicting the ones that
// have.
func (s *ExpiringStore) GetAllLive(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, xerrors.Errorf("error listing keys: %w", err)
	}

	live := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		raw, ok, err := s.GetRaw(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			live[key] = raw
		}
	}

	return live, nil
}

// SweepExpired reads every key for the eviction side effect of doing so and
// returns the number of records that were evicted.
func (s *ExpiringStore) SweepExpired(ctx context.Context) (int, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, xerrors.Errorf("error listing keys: %w", err)
	}

	var numSwept int
	for _, key := range keys {
		_, evicted, err := s.load(ctx, key)
		if err != nil {
			return 0, err
		}
		if evicted {
			numSwept++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"num_keys":  len(keys),
		"num_swept": numSwept,
	}).Infof("nastore: Swept %d expired key(s)", numSwept)

	return numSwept, nil
}

// SweepLoop sweeps expired keys every interval (plus up to a tenth of it in
// jitter, so processes sharing a backend don't sweep in lockstep) until ctx is
// done. Sweep errors are logged and don't stop the loop.
func (s *ExpiringStore) SweepLoop(ctx context.Context, interval time.Duration) {
	for {
		if _, err := s.SweepExpired(ctx); err != nil {
			s.logger.Errorf("nastore: Error sweeping expired keys: %v", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Infof("nastore: Sweep loop received shutdown signal")
			return

		case <-time.After(interval + randutil.Jitter(interval/10)):
		}
	}
}

// GetValue is a typed shortcut around ExpiringStore.Get.
func GetValue[T any](ctx context.Context, s *ExpiringStore, key string) (T, bool, error) {
	var val T
	ok, err := s.Get(ctx, key, &val)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return val, true, nil
}
