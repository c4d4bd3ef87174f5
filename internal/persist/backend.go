package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-datastore"
	leveldb "github.com/ipfs/go-ds-leveldb"
)

const (
	ledgerFileName = "deaths.json"
	levelDBDirName = "ledger.ldb"
)

// ErrNotFound is returned by a Backend that holds no ledger yet.
var ErrNotFound = errors.New("ledger not found")

// Backend stores the encoded ledger. Writes must replace the previous copy
// atomically: a failed write leaves the last good copy readable.
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
	// Location describes where the ledger lives, for log lines.
	Location() string
}

// FileBackend keeps the ledger in a JSON file inside dir.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a FileBackend. The directory is created on the
// first Write if it does not exist.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the full path to the ledger file.
func (b *FileBackend) Path() string {
	return filepath.Join(b.dir, ledgerFileName)
}

func (b *FileBackend) Location() string {
	return b.Path()
}

func (b *FileBackend) Read() ([]byte, error) {
	data, err := os.ReadFile(b.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return data, nil
}

func (b *FileBackend) Write(data []byte) error {
	return writeFileAtomic(b.Path(), data)
}

// DatastoreKey is where DatastoreBackend keeps the ledger.
var DatastoreKey = datastore.NewKey("/deathcounter/deaths")

// DatastoreBackend keeps the ledger as a single value in a go-datastore.
// A single Put replaces the value atomically.
type DatastoreBackend struct {
	ds datastore.Datastore
}

func NewDatastoreBackend(ds datastore.Datastore) *DatastoreBackend {
	return &DatastoreBackend{ds: ds}
}

func (b *DatastoreBackend) Location() string {
	return "datastore:" + DatastoreKey.String()
}

func (b *DatastoreBackend) Read() ([]byte, error) {
	data, err := b.ds.Get(context.Background(), DatastoreKey)
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading ledger from datastore: %w", err)
	}
	return data, nil
}

func (b *DatastoreBackend) Write(data []byte) error {
	ctx := context.Background()
	if err := b.ds.Put(ctx, DatastoreKey, data); err != nil {
		return fmt.Errorf("writing ledger to datastore: %w", err)
	}
	if err := b.ds.Sync(ctx, DatastoreKey); err != nil {
		return fmt.Errorf("syncing datastore: %w", err)
	}
	return nil
}

// OpenLevelDB opens a LevelDB datastore inside dir and returns a backend
// over it. Close releases the database.
func OpenLevelDB(dir string) (*DatastoreBackend, func() error, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating dir: %w", err)
	}
	ds, err := leveldb.NewDatastore(filepath.Join(dir, levelDBDirName), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("opening leveldb: %w", err)
	}
	return NewDatastoreBackend(ds), ds.Close, nil
}

// writeFileAtomic writes data using a temp-file-then-rename pattern. The
// directory is created if it does not already exist.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	committed = true

	return nil
}
