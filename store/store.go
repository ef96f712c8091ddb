// Package store persists the playback session in a local key-value
// database: saved volume, current station, the active queue and its
// source label, and a short playback history. Writes are immediate
// and absent values remove their key. A value that no longer decodes
// is discarded and replaced by the default; corruption never reaches
// the caller.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/radyolab/radyo"
)

const (
	bucketSession = "session"

	keyVolume      = "volume"
	keyStation     = "current_station"
	keyQueue       = "station_list"
	keyQueueSource = "station_list_source"
	keyHistory     = "history"
)

// historyLimit caps the playback history ring.
const historyLimit = 20

// Store is a bbolt-backed radyo.SessionStore.
type Store struct {
	db  *bolt.DB
	log zerolog.Logger
}

// DefaultPath returns the session database location under the user
// config directory, creating the directory if needed.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	appDir := filepath.Join(dir, "radyo")
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return "", err
	}

	return filepath.Join(appDir, "session.db"), nil
}

// Open opens (or creates) the session database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketSession))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating bucket: %w", err)
	}

	return &Store{db: db, log: logger.With().Str("component", "store").Logger()}, nil
}

// Volume returns the saved volume level.
func (s *Store) Volume() (int, bool) {
	var v int
	if !s.get(keyVolume, &v) {
		return 0, false
	}

	return radyo.ClampVolume(v), true
}

// SaveVolume stores the volume level.
func (s *Store) SaveVolume(v int) error {
	return s.put(keyVolume, radyo.ClampVolume(v))
}

// CurrentStation returns the saved current station.
func (s *Store) CurrentStation() (*radyo.Station, bool) {
	var st radyo.Station
	if !s.get(keyStation, &st) || st.Name == "" {
		return nil, false
	}

	return &st, true
}

// SaveCurrentStation stores st; nil removes the entry.
func (s *Store) SaveCurrentStation(st *radyo.Station) error {
	if st == nil {
		return s.delete(keyStation)
	}

	return s.put(keyStation, st)
}

// Queue returns the saved queue and its source label.
func (s *Store) Queue() (radyo.Queue, bool) {
	var q radyo.Queue
	if !s.get(keyQueue, &q.Stations) || len(q.Stations) == 0 {
		return radyo.Queue{}, false
	}

	s.get(keyQueueSource, &q.Source)

	return q, true
}

// SaveQueue stores q; an empty queue removes both the list and its
// source label.
func (s *Store) SaveQueue(q radyo.Queue) error {
	if q.Empty() {
		if err := s.delete(keyQueue); err != nil {
			return err
		}

		return s.delete(keyQueueSource)
	}

	if err := s.put(keyQueue, q.Stations); err != nil {
		return err
	}
	if q.Source == "" {
		return s.delete(keyQueueSource)
	}

	return s.put(keyQueueSource, q.Source)
}

// History returns the recently played stations, most recent last.
func (s *Store) History() []radyo.Station {
	var h []radyo.Station
	s.get(keyHistory, &h)

	return h
}

// AppendHistory records a played station, skipping an immediate
// repeat and trimming the ring to its cap.
func (s *Store) AppendHistory(st radyo.Station) error {
	h := s.History()

	if n := len(h); n > 0 && h[n-1].Same(st) {
		return nil
	}

	h = append(h, st)
	if len(h) > historyLimit {
		h = h[len(h)-historyLimit:]
	}

	return s.put(keyHistory, h)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// get decodes the value at key into dest. A value that fails to
// decode is deleted on the spot and reported as missing.
func (s *Store) get(key string, dest interface{}) bool {
	ok := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSession))

		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}

		if err := json.Unmarshal(raw, dest); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("discarding corrupted session value")
			return b.Delete([]byte(key))
		}

		ok = true
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("session read failed")
		return false
	}

	return ok
}

func (s *Store) put(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encoding %s: %w", key, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Put([]byte(key), raw)
	})
}

func (s *Store) delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketSession)).Delete([]byte(key))
	})
}
