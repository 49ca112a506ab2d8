// Package lock serializes orchestrator ticks on one host with an
// exclusive-create lock file. A crashed holder's lock is reclaimed after its
// TTL through the stale-break path; release requires the owner token.
package lock

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/lanekeeper/internal/fsutil"
	"github.com/Sumatoshi-tech/lanekeeper/internal/schema"
	"github.com/Sumatoshi-tech/lanekeeper/internal/stamp"
)

// Version is the lock record format version.
const Version = 1

// acquireAttempts bounds the acquire retry loop.
const acquireAttempts = 4

// ownerTokenBytes is the random token length before hex encoding.
const ownerTokenBytes = 16

// Acquire/release reasons.
const (
	ReasonLockHeld = "lock_held"
	ReasonNotOwner = "not_owner"
	ReasonMissing  = "missing"
)

// ErrTokenGeneration wraps failures of the crypto random source.
var ErrTokenGeneration = errors.New("generate owner token")

// Record is the on-disk lock record.
type Record struct {
	Version       int    `json:"version"`
	LockName      string `json:"lock_name"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at"`
	PID           int    `json:"pid"`
	UID           int    `json:"uid"`
	User          string `json:"user"`
	Host          string `json:"host"`
	CWD           string `json:"cwd"`
	Command       string `json:"command"`
	ProjectRoot   string `json:"project_root"`
	AIProjectRoot string `json:"ai_project_root"`
	OwnerToken    string `json:"owner_token"`
}

// Acquisition is the outcome of an acquire attempt.
type Acquisition struct {
	Acquired   bool
	BrokeStale bool
	Reason     string
	OwnerToken string
	Lock       *Record
}

// ReleaseResult is the outcome of a release attempt.
type ReleaseResult struct {
	Released bool
	Reason   string
}

// Manager acquires and releases one named lock file.
type Manager struct {
	Path     string
	LockName string
	TTL      time.Duration

	// Roots recorded into the lock for operator forensics.
	ProjectRoot   string
	AIProjectRoot string

	// now is swapped in tests.
	now func() time.Time
}

// NewManager creates a lock manager for path with the given TTL.
func NewManager(path, lockName string, ttl time.Duration, projectRoot, aiProjectRoot string) *Manager {
	return &Manager{
		Path:          path,
		LockName:      lockName,
		TTL:           ttl,
		ProjectRoot:   projectRoot,
		AIProjectRoot: aiProjectRoot,
		now:           time.Now,
	}
}

// Acquire attempts to take the lock. A held fresh lock is not an error:
// the result carries Acquired=false with reason "lock_held". Stale locks
// (expired record, or unreadable record with an mtime older than TTL) are
// renamed aside and the attempt retries, up to 4 attempts total.
func (m *Manager) Acquire() (*Acquisition, error) {
	mkdirErr := os.MkdirAll(filepath.Dir(m.Path), fsutil.DirPerm)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create lock dir: %w", mkdirErr)
	}

	brokeStale := false

	for attempt := 0; attempt < acquireAttempts; attempt++ {
		acq, err := m.tryExclusiveCreate()
		if err != nil {
			return nil, err
		}

		if acq != nil {
			acq.BrokeStale = brokeStale

			return acq, nil
		}

		existing, readErr := m.readRecord()

		if m.isStale(existing, readErr) {
			breakErr := m.breakStale()
			if breakErr != nil {
				return nil, breakErr
			}

			brokeStale = true

			continue
		}

		if existing != nil {
			return &Acquisition{Acquired: false, Reason: ReasonLockHeld, Lock: existing}, nil
		}
	}

	return &Acquisition{Acquired: false, Reason: ReasonLockHeld}, nil
}

// tryExclusiveCreate returns a successful acquisition, or nil when the lock
// file already exists.
func (m *Manager) tryExclusiveCreate() (*Acquisition, error) {
	file, err := os.OpenFile(m.Path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.FilePerm)
	if err != nil {
		if os.IsExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("create lock file: %w", err)
	}

	token, tokenErr := newOwnerToken()
	if tokenErr != nil {
		_ = file.Close()
		_ = os.Remove(m.Path)

		return nil, tokenErr
	}

	record := m.newRecord(token)

	data, encodeErr := fsutil.MarshalCanonical(record)
	if encodeErr == nil {
		_, writeErr := file.Write(data)
		if writeErr != nil {
			encodeErr = fmt.Errorf("write lock record: %w", writeErr)
		}
	}

	closeErr := file.Close()

	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(m.Path)

		if encodeErr != nil {
			return nil, encodeErr
		}

		return nil, fmt.Errorf("close lock file: %w", closeErr)
	}

	return &Acquisition{Acquired: true, OwnerToken: token, Lock: record}, nil
}

func (m *Manager) newRecord(token string) *Record {
	now := m.now().UTC()

	username := "unknown"
	uid := -1

	current, userErr := user.Current()
	if userErr == nil {
		username = current.Username

		parsed, parseErr := strconv.Atoi(current.Uid)
		if parseErr == nil {
			uid = parsed
		}
	}

	host, _ := os.Hostname()
	cwd, _ := os.Getwd()

	return &Record{
		Version:       Version,
		LockName:      m.LockName,
		CreatedAt:     stamp.ISO(now),
		ExpiresAt:     stamp.ISO(now.Add(m.TTL)),
		PID:           os.Getpid(),
		UID:           uid,
		User:          username,
		Host:          host,
		CWD:           cwd,
		Command:       strings.Join(os.Args, " "),
		ProjectRoot:   m.ProjectRoot,
		AIProjectRoot: m.AIProjectRoot,
		OwnerToken:    token,
	}
}

func (m *Manager) readRecord() (*Record, error) {
	raw, err := os.ReadFile(m.Path)
	if err != nil {
		return nil, fmt.Errorf("read lock record: %w", err)
	}

	validateErr := schema.ValidateBytes(schema.LockRecord, raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var record Record

	decodeErr := fsutil.ReadJSON(m.Path, &record)
	if decodeErr != nil {
		return nil, decodeErr
	}

	return &record, nil
}

// isStale decides whether an existing lock may be broken: its record has
// expired, or the record is unreadable and the file mtime is older than TTL.
func (m *Manager) isStale(record *Record, readErr error) bool {
	if readErr == nil && record != nil {
		expires, parseErr := stamp.Parse(record.ExpiresAt)
		if parseErr != nil {
			return true
		}

		return !m.now().UTC().Before(expires)
	}

	info, statErr := os.Stat(m.Path)
	if statErr != nil {
		// Lock vanished between attempts; the retry will re-create it.
		return false
	}

	return m.now().Sub(info.ModTime()) > m.TTL
}

func (m *Manager) breakStale() error {
	staleName := fmt.Sprintf("%s.stale-%s-%d.json", m.Path, stamp.FSSafe(m.now()), os.Getpid())

	err := os.Rename(m.Path, staleName)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("break stale lock: %w", err)
	}

	return nil
}

// Release removes the lock if ownerToken matches the current record.
// Releasing an already-missing lock is reported, not an error.
func (m *Manager) Release(ownerToken string) (*ReleaseResult, error) {
	record, err := m.readRecord()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ReleaseResult{Released: false, Reason: ReasonMissing}, nil
		}

		return nil, err
	}

	if record.OwnerToken != ownerToken {
		return &ReleaseResult{Released: false, Reason: ReasonNotOwner}, nil
	}

	removeErr := os.Remove(m.Path)
	if removeErr != nil {
		if os.IsNotExist(removeErr) {
			return &ReleaseResult{Released: false, Reason: ReasonMissing}, nil
		}

		return nil, fmt.Errorf("remove lock file: %w", removeErr)
	}

	return &ReleaseResult{Released: true}, nil
}

func newOwnerToken() (string, error) {
	buf := make([]byte, ownerTokenBytes)

	_, err := rand.Read(buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	return hex.EncodeToString(buf), nil
}
