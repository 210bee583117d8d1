package quarantine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/proferosec/moo-tools/internal/digest"
)

// IndexFile is the manifest database kept in the quarantine root.
const IndexFile = "quarantine.db"

var bucketRecords = []byte("records")

// Record describes one quarantined file. Name is the file name inside the
// quarantine root and is the record key.
type Record struct {
	Name            string      `json:"name"`
	OriginalPath    string      `json:"original_path"`
	QuarantinedPath string      `json:"quarantined_path"`
	Digest          digest.Sums `json:"digest"`
	QuarantinedAt   time.Time   `json:"quarantined_at"`
}

// Index is the bbolt manifest of quarantined files.
type Index struct {
	db *bbolt.DB
}

// OpenIndex opens or creates the manifest in root.
func OpenIndex(root string) (*Index, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create quarantine root: %w", err)
	}

	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(filepath.Join(root, IndexFile), 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open quarantine index: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) Put(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Put([]byte(r.Name), data)
	})
}

// Get returns the record stored under name and whether it exists.
func (x *Index) Get(name string) (Record, bool, error) {
	var (
		r     Record
		found bool
	)
	err := x.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &r)
	})
	return r, found, err
}

func (x *Index) Delete(name string) error {
	return x.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).Delete([]byte(name))
	})
}

// List returns all records ordered by name.
func (x *Index) List() ([]Record, error) {
	var records []Record
	err := x.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}
