package ledger

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/google/uuid"
)

// Bucket names.
const (
	bucketBuilds   = "builds"
	bucketByGen    = "by_generation" // generation number -> latest UUID
	bucketManifest = "manifest_hash" // generation number -> CRC32 of its manifest, the incremental fast-path index
)

// Record is one build attempt, mirroring builddb.BuildRecord's shape
// but keyed to a generation instead of a ports-tree package.
type Record struct {
	UUID        string    `json:"uuid"`
	Generation  int       `json:"generation"`
	Mode        string    `json:"mode"` // "fresh" | "incremental"
	Status      string    `json:"status"` // "running" | "success" | "failed"
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	FailureStep string    `json:"failure_step,omitempty"`
}

// Ledger wraps a bbolt database recording build-attempt history.
type Ledger struct {
	db *bolt.DB
}

// Open opens or creates the ledger database at path, initializing its
// buckets if needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &DatabaseError{Op: "open", Err: err}
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketBuilds, bucketByGen, bucketManifest} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return &DatabaseError{Op: "create bucket", Bucket: name, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	return &Ledger{db: bdb}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Begin starts a new build attempt for generation in the given mode and
// records it as "running". It returns the generated build UUID.
func (l *Ledger) Begin(generation int, mode string) (string, error) {
	id := uuid.New().String()
	rec := &Record{
		UUID:       id,
		Generation: generation,
		Mode:       mode,
		Status:     "running",
		StartTime:  time.Now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", &RecordError{Op: "marshal", UUID: id, Err: err}
	}

	err = l.db.Update(func(tx *bolt.Tx) error {
		builds := tx.Bucket([]byte(bucketBuilds))
		if builds == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketBuilds, Err: ErrBucketNotFound}
		}
		if err := builds.Put([]byte(id), data); err != nil {
			return err
		}

		byGen := tx.Bucket([]byte(bucketByGen))
		if byGen == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketByGen, Err: ErrBucketNotFound}
		}
		return byGen.Put(genKey(generation), []byte(id))
	})
	if err != nil {
		return "", &RecordError{Op: "begin", UUID: id, Err: err}
	}

	return id, nil
}

// Finish records the outcome of a build attempt.
func (l *Ledger) Finish(id, status, failureStep string) error {
	if id == "" {
		return &RecordError{Op: "finish", Err: ErrEmptyUUID}
	}

	err := l.db.Update(func(tx *bolt.Tx) error {
		builds := tx.Bucket([]byte(bucketBuilds))
		if builds == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketBuilds, Err: ErrBucketNotFound}
		}

		data := builds.Get([]byte(id))
		if data == nil {
			return &RecordError{Op: "finish", UUID: id, Err: ErrRecordNotFound}
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return &RecordError{Op: "unmarshal", UUID: id, Err: err}
		}

		rec.Status = status
		rec.EndTime = time.Now()
		rec.FailureStep = failureStep

		updated, err := json.Marshal(&rec)
		if err != nil {
			return &RecordError{Op: "marshal", UUID: id, Err: err}
		}
		return builds.Put([]byte(id), updated)
	})
	if err != nil {
		return &RecordError{Op: "finish", UUID: id, Err: err}
	}
	return nil
}

// Get retrieves a build record by UUID.
func (l *Ledger) Get(id string) (*Record, error) {
	if id == "" {
		return nil, &RecordError{Op: "get", Err: ErrEmptyUUID}
	}

	var rec Record
	err := l.db.View(func(tx *bolt.Tx) error {
		builds := tx.Bucket([]byte(bucketBuilds))
		if builds == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketBuilds, Err: ErrBucketNotFound}
		}
		data := builds.Get([]byte(id))
		if data == nil {
			return &RecordError{Op: "get", UUID: id, Err: ErrRecordNotFound}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestForGeneration returns the most recent build attempt recorded
// for a generation number, or nil if none exists.
func (l *Ledger) LatestForGeneration(generation int) (*Record, error) {
	var rec *Record

	err := l.db.View(func(tx *bolt.Tx) error {
		byGen := tx.Bucket([]byte(bucketByGen))
		if byGen == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketByGen, Err: ErrBucketNotFound}
		}
		id := byGen.Get(genKey(generation))
		if id == nil {
			return nil
		}

		builds := tx.Bucket([]byte(bucketBuilds))
		if builds == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketBuilds, Err: ErrBucketNotFound}
		}
		data := builds.Get(id)
		if data == nil {
			return &RecordError{Op: "get", UUID: string(id), Err: ErrRecordNotFound}
		}

		rec = &Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History returns every recorded build attempt, most recent first.
func (l *Ledger) History() ([]*Record, error) {
	var records []*Record

	err := l.db.View(func(tx *bolt.Tx) error {
		builds := tx.Bucket([]byte(bucketBuilds))
		if builds == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketBuilds, Err: ErrBucketNotFound}
		}
		return builds.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return &RecordError{Op: "unmarshal", Err: err}
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Keys are random UUIDs, so bbolt's key order says nothing about age.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartTime.After(records[j].StartTime)
	})
	return records, nil
}

// StoreManifestHash records the content hash of the manifest a
// generation was built from, the fast-path index an incremental build
// consults before doing any diff work at all.
func (l *Ledger) StoreManifestHash(generation int, hash uint32) error {
	value := make([]byte, 4)
	value[0], value[1], value[2], value[3] = byte(hash), byte(hash>>8), byte(hash>>16), byte(hash>>24)

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketManifest))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketManifest, Err: ErrBucketNotFound}
		}
		return bucket.Put(genKey(generation), value)
	})
}

// ManifestHash retrieves a previously stored manifest content hash.
func (l *Ledger) ManifestHash(generation int) (uint32, bool, error) {
	var hash uint32
	var found bool

	err := l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketManifest))
		if bucket == nil {
			return &DatabaseError{Op: "get bucket", Bucket: bucketManifest, Err: ErrBucketNotFound}
		}
		value := bucket.Get(genKey(generation))
		if value == nil {
			return nil
		}
		if len(value) != 4 {
			return &DatabaseError{Op: "decode manifest hash", Bucket: bucketManifest, Err: fmt.Errorf("corrupt entry")}
		}
		hash = uint32(value[0]) | uint32(value[1])<<8 | uint32(value[2])<<16 | uint32(value[3])<<24
		found = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return hash, found, nil
}

// HashManifestBytes computes the content hash used by
// StoreManifestHash/ManifestHash, exported so callers never need to
// duplicate the checksum choice.
func HashManifestBytes(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

func genKey(generation int) []byte {
	return []byte(fmt.Sprintf("%020d", generation))
}
