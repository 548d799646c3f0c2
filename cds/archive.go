// Package cds implements a class data sharing archive: decoded class files
// are stored in a SQLite database, CBOR-encoded and keyed by class name and
// the SHA-256 digest of the original bytes, so later runs can skip parsing.
package cds

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/espresso/classfile"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("espresso.cds")

// ErrMiss is returned by Lookup when no entry matches name and digest.
var ErrMiss = errors.New("cds: no archived class")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cds: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Digest returns the hex SHA-256 digest used as the archive key.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Marshal encodes a class file for storage.
func Marshal(cf *classfile.ClassFile) ([]byte, error) {
	return encMode.Marshal(cf)
}

// Unmarshal decodes a stored class file.
func Unmarshal(data []byte) (*classfile.ClassFile, error) {
	var cf classfile.ClassFile
	if err := cbor.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("cds: unmarshal class: %w", err)
	}
	return &cf, nil
}

// Archive is an open CDS database.
type Archive struct {
	db   *sql.DB
	path string
	mu   sync.Mutex

	hits, misses int
}

// Entry describes one archived class.
type Entry struct {
	Name   string
	Digest string
	Size   int
}

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cds: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cds: setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS classes (
		name   TEXT NOT NULL,
		digest TEXT NOT NULL,
		data   BLOB NOT NULL,
		PRIMARY KEY (name, digest)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cds: creating table: %w", err)
	}

	return &Archive{db: db, path: path}, nil
}

// Path returns the database file the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Close closes the database.
func (a *Archive) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Lookup returns the archived class for name whose original bytes hashed to
// digest.
func (a *Archive) Lookup(name, digest string) (*classfile.ClassFile, error) {
	var data []byte
	err := a.db.QueryRow("SELECT data FROM classes WHERE name = ? AND digest = ?", name, digest).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			a.count(false)
			return nil, fmt.Errorf("%w: %s", ErrMiss, name)
		}
		return nil, fmt.Errorf("cds: querying %s: %w", name, err)
	}
	cf, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	a.count(true)
	log.Debugf("archive hit for %s", name)
	return cf, nil
}

// Store records a decoded class under name and digest, replacing any
// previous entry with the same key.
func (a *Archive) Store(name, digest string, cf *classfile.ClassFile) error {
	data, err := Marshal(cf)
	if err != nil {
		return fmt.Errorf("cds: marshal %s: %w", name, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err = a.db.Exec(
		"INSERT OR REPLACE INTO classes (name, digest, data) VALUES (?, ?, ?)",
		name, digest, data,
	)
	if err != nil {
		return fmt.Errorf("cds: storing %s: %w", name, err)
	}
	return nil
}

// List returns every archived entry ordered by name.
func (a *Archive) List() ([]Entry, error) {
	rows, err := a.db.Query("SELECT name, digest, length(data) FROM classes ORDER BY name, digest")
	if err != nil {
		return nil, fmt.Errorf("cds: listing classes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Digest, &e.Size); err != nil {
			return nil, fmt.Errorf("cds: scanning row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns the hit and miss counts recorded by Lookup.
func (a *Archive) Stats() (hits, misses int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits, a.misses
}

func (a *Archive) count(hit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if hit {
		a.hits++
	} else {
		a.misses++
	}
}
