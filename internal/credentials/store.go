package credentials

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/tasktally/tasktally-ssh/internal/errs"
)

const (
	opStore = "credential_store"

	lockRetryDelay = 50 * time.Millisecond
)

// Store keeps credential records per user.
type Store interface {
	// Put stores cred for userID, replacing any record with the same name.
	Put(ctx context.Context, userID string, cred CredentialRef) error

	// Find returns the named record and whether it exists.
	Find(ctx context.Context, userID, name string) (CredentialRef, bool, error)

	// List returns the user's records sorted by name.
	List(ctx context.Context, userID string) ([]CredentialRef, error)

	// Remove deletes the named record. Removing a missing record is not an error.
	Remove(ctx context.Context, userID, name string) error
}

// records maps user id to credential name to record.
type records map[string]map[string]CredentialRef

func (r records) put(userID string, cred CredentialRef) {
	if r[userID] == nil {
		r[userID] = make(map[string]CredentialRef)
	}
	r[userID][cred.Name] = cred
}

func (r records) list(userID string) []CredentialRef {
	out := make([]CredentialRef, 0, len(r[userID]))
	for _, c := range r[userID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r records) remove(userID, name string) {
	delete(r[userID], name)
	if len(r[userID]) == 0 {
		delete(r, userID)
	}
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data records
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(records)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, userID string, cred CredentialRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.put(userID, cred)
	slog.Debug("Stored credential", "user", userID, "name", cred.Name)
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, userID, name string) (CredentialRef, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.data[userID][name]
	return cred, ok, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, userID string) ([]CredentialRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.list(userID), nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.remove(userID, name)
	return nil
}

// FileStore keeps records in a YAML file guarded by an advisory file lock, so several CLI
// invocations can share it.
type FileStore struct {
	path string
	// mu serializes goroutines sharing this FileStore; flock only excludes other handles.
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFileStore creates a FileStore backed by path. The file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, userID string, cred CredentialRef) error {
	return s.update(ctx, func(r records) { r.put(userID, cred) })
}

// Find implements Store.
func (s *FileStore) Find(ctx context.Context, userID, name string) (CredentialRef, bool, error) {
	var (
		cred  CredentialRef
		found bool
	)
	err := s.view(ctx, func(r records) {
		cred, found = r[userID][name]
	})
	return cred, found, err
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, userID string) ([]CredentialRef, error) {
	var out []CredentialRef
	err := s.view(ctx, func(r records) { out = r.list(userID) })
	return out, err
}

// Remove implements Store.
func (s *FileStore) Remove(ctx context.Context, userID, name string) error {
	return s.update(ctx, func(r records) { r.remove(userID, name) })
}

func (s *FileStore) view(ctx context.Context, fn func(records)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureDir(); err != nil {
		return err
	}

	locked, err := s.lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return errs.IO(opStore, fmt.Errorf("failed to lock %s: %w", s.path, lockError(err)))
	}
	defer func() { _ = s.lock.Unlock() }()

	r, err := s.load()
	if err != nil {
		return err
	}
	fn(r)
	return nil
}

func (s *FileStore) update(ctx context.Context, fn func(records)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureDir(); err != nil {
		return err
	}

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return errs.IO(opStore, fmt.Errorf("failed to lock %s: %w", s.path, lockError(err)))
	}
	defer func() { _ = s.lock.Unlock() }()

	r, err := s.load()
	if err != nil {
		return err
	}
	fn(r)
	return s.save(r)
}

func (s *FileStore) load() (records, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(records), nil
	}
	if err != nil {
		return nil, errs.IO(opStore, fmt.Errorf("failed to read %s: %w", s.path, err))
	}

	r := make(records)
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errs.IO(opStore, fmt.Errorf("failed to parse %s: %w", s.path, err))
	}
	if r == nil {
		r = make(records)
	}
	return r, nil
}

// save writes r to a sibling temp file and renames it over the store file.
func (s *FileStore) save(r records) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errs.IO(opStore, fmt.Errorf("failed to encode credentials: %w", err))
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return errs.IO(opStore, fmt.Errorf("failed to write credentials: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errs.IO(opStore, fmt.Errorf("failed to write credentials: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errs.IO(opStore, fmt.Errorf("failed to write credentials: %w", err))
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errs.IO(opStore, fmt.Errorf("failed to replace %s: %w", s.path, err))
	}
	return nil
}

func (s *FileStore) ensureDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errs.IO(opStore, fmt.Errorf("failed to create %s: %w", dir, err))
	}
	return nil
}

func lockError(err error) error {
	if err != nil {
		return err
	}
	return errors.New("lock not acquired")
}
