package store

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Manager provides shared database access to prevent locking conflicts.
// mu guards db itself (not bbolt's own internal locking, which already
// serializes transactions): a SharedDB handle born before a close/reopen
// must never observe a half-swapped db pointer from a concurrent caller
// racing GetSharedDB for the same dataDir.
type Manager struct {
	mu     sync.RWMutex
	db     *DB
	dbPath string
	refs   int // Reference count
}

// dbRef returns the manager's current database connection, safe for
// concurrent use alongside GetSharedDB/close swapping it out.
func (m *Manager) dbRef() *DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// globalManager is a singleton database manager
var globalManager *Manager
var managerMu sync.Mutex

// GetSharedDB returns a shared database connection for the given data
// directory. Multiple calls with the same dataDir will return the same
// connection. The connection is reference counted and will be closed when
// all references are released.
func GetSharedDB(dataDir string) (*SharedDB, error) {
	managerMu.Lock()
	defer managerMu.Unlock()

	dbPath := filepath.Join(dataDir, "vmap-flush.db")
	
	// If no manager exists or it's for a different database, create a new one
	if globalManager == nil || globalManager.dbPath != dbPath {
		// Close existing manager if it exists
		if globalManager != nil {
			globalManager.close()
		}
		
		db, err := Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		
		globalManager = &Manager{
			db:     db,
			dbPath: dbPath,
			refs:   0,
		}
	}

	// Increment reference count
	globalManager.refs++

	return &SharedDB{manager: globalManager}, nil
}

// SharedDB wraps a database connection with reference counting. It does not
// embed *DB directly so every access goes through the manager's mu, rather
// than pinning the db pointer a SharedDB happened to see at construction
// time.
type SharedDB struct {
	manager *Manager
}

// PutFlushedCopy stores data under seq through the manager's current
// connection.
func (sdb *SharedDB) PutFlushedCopy(seq uint64, data []byte) error {
	return sdb.manager.dbRef().PutFlushedCopy(seq, data)
}

// GetFlushedCopy retrieves the blob stored under seq through the manager's
// current connection.
func (sdb *SharedDB) GetFlushedCopy(seq uint64) ([]byte, error) {
	return sdb.manager.dbRef().GetFlushedCopy(seq)
}

// Close decrements the reference count and closes the underlying database
// when no more references exist.
func (sdb *SharedDB) Close() error {
	if sdb.manager == nil {
		return nil
	}

	managerMu.Lock()
	defer managerMu.Unlock()

	sdb.manager.refs--

	// If no more references, close the underlying database
	if sdb.manager.refs <= 0 {
		err := sdb.manager.close()
		globalManager = nil
		return err
	}

	return nil
}

// close closes the underlying database connection (internal use only)
func (m *Manager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		err := m.db.Close()
		m.db = nil
		return err
	}
	return nil
}