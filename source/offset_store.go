package source

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var offsetsBucket = []byte("offsets")

type offsetRecord struct {
	Offset    int64  `msgpack:"offset"`
	Identity  uint64 `msgpack:"identity"`
	UpdatedAt int64  `msgpack:"updated_at"`
}

// offsetStore persists read offsets keyed by absolute file path.
type offsetStore struct {
	db *bbolt.DB
}

func openOffsetStore(path string) (*offsetStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt.Open(%s): %v", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(offsetsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %v", err)
	}
	return &offsetStore{db: db}, nil
}

func (s *offsetStore) save(key string, rec offsetRecord) error {
	rec.UpdatedAt = time.Now().Unix()
	b, err := msgpack.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(offsetsBucket).Put([]byte(key), b)
	})
}

func (s *offsetStore) load(key string) (offsetRecord, bool, error) {
	rec := offsetRecord{}
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(offsetsBucket).Get([]byte(key))
		if b == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(b, &rec)
	})
	return rec, found, err
}

func (s *offsetStore) close() error {
	return s.db.Close()
}
