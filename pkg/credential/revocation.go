package credential

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRevocations = []byte("revocations")

// RevocationTable persists revoked (jobid, stepid) pairs to disk so a
// node-agent restart does not forget a revocation (§8 restart round-trip
// law). One bucket, keyed by the 8-byte big-endian (jobid, stepid) pair,
// valued by the revocation time (for begin_expiration bookkeeping).
type RevocationTable struct {
	db *bolt.DB
}

// OpenRevocationTable opens (creating if necessary) the revocation
// database under dataDir.
func OpenRevocationTable(dataDir string) (*RevocationTable, error) {
	dbPath := filepath.Join(dataDir, "revocations.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to open revocation db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRevocations)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("credential: failed to create revocation bucket: %w", err)
	}

	return &RevocationTable{db: db}, nil
}

// Close closes the underlying database.
func (t *RevocationTable) Close() error {
	return t.db.Close()
}

func revocationKey(jobID, stepID uint32) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint32(key[0:4], jobID)
	binary.BigEndian.PutUint32(key[4:8], stepID)
	return key
}

// Revoke marks (jobID, stepID) as revoked, persisting immediately.
func (t *RevocationTable) Revoke(jobID, stepID uint32) error {
	key := revocationKey(jobID, stepID)
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevocations)
		val, err := time.Now().UTC().MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(key, val)
	})
}

// IsRevoked reports whether (jobID, stepID) has been revoked.
func (t *RevocationTable) IsRevoked(jobID, stepID uint32) (bool, error) {
	key := revocationKey(jobID, stepID)
	var found bool
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevocations)
		found = b.Get(key) != nil
		return nil
	})
	return found, err
}

// BeginExpiration returns the time a revocation was recorded, or the zero
// time if the pair was never revoked. It only reads the table: it stores
// no expiration, applies no grace period, and persists nothing.
func (t *RevocationTable) BeginExpiration(jobID, stepID uint32) (time.Time, error) {
	key := revocationKey(jobID, stepID)
	var when time.Time
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevocations)
		val := b.Get(key)
		if val == nil {
			return nil
		}
		return when.UnmarshalBinary(val)
	})
	return when, err
}

// Insert is an alias for Revoke used by callers that think in terms of
// "insert into the revocation table" (§4.2's own vocabulary).
func (t *RevocationTable) Insert(jobID, stepID uint32) error {
	return t.Revoke(jobID, stepID)
}
