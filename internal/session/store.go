package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNoSession is returned by Load when no record matches the ID.
	ErrNoSession = errors.New("no such session")
	// ErrAmbiguousID is returned by Load when a prefix matches several records.
	ErrAmbiguousID = errors.New("ambiguous session id")
)

const recordExt = ".json"

// SessionStore persists recording history.
type SessionStore interface {
	Save(s *Session) error
	// Load accepts a full ID or a unique prefix of one.
	Load(id string) (*Session, error)
	// List returns every readable record, newest first. Unreadable records
	// are skipped and reported in the returned error.
	List() ([]*Session, error)
	Delete(id string) error
}

// diskStore is the concrete SessionStore that writes one file per record.
type diskStore struct {
	dir string
}

// NewSessionStore returns a SessionStore backed by the XDG data directory.
// Path: $XDG_DATA_HOME/script/sessions or ~/.local/share/script/sessions
func NewSessionStore() (SessionStore, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	return NewSessionStoreAt(dir)
}

// NewSessionStoreAt returns a SessionStore rooted at dir, creating it.
func NewSessionStoreAt(dir string) (SessionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{dir: dir}, nil
}

// dataDir returns the script-specific XDG data directory.
func dataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "script", "sessions"), nil
}

func (d *diskStore) path(id string) string {
	return filepath.Join(d.dir, id+recordExt)
}

// Save marshals s to JSON and writes it atomically via a temp file + os.Rename.
func (d *diskStore) Save(s *Session) (err error) {
	if !validID(s.ID) {
		return fmt.Errorf("failed to persist session record: invalid id %q", s.ID)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}

	// Write to a temp file in the same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(d.dir, "session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	if err = os.Rename(tmpName, d.path(s.ID)); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}
	return nil
}

// Load resolves id and reads the matching record.
func (d *diskStore) Load(id string) (*Session, error) {
	full, err := d.resolve(id)
	if err != nil {
		return nil, err
	}
	return d.read(d.path(full))
}

func (d *diskStore) read(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse session record %s: %w", filepath.Base(path), err)
	}
	return &s, nil
}

// resolve maps a full ID or unique prefix to a stored ID.
func (d *diskStore) resolve(id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("%w: %q", ErrNoSession, id)
	}
	ids, err := d.ids()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, candidate := range ids {
		if candidate == id {
			return candidate, nil
		}
		if strings.HasPrefix(candidate, id) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNoSession, id)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%w: %s matches %d sessions", ErrAmbiguousID, id, len(matches))
}

func (d *diskStore) ids() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session records: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	return ids, nil
}

// List reads every record, newest first.
func (d *diskStore) List() ([]*Session, error) {
	ids, err := d.ids()
	if err != nil {
		return nil, err
	}
	var (
		out  []*Session
		errs []error
	)
	for _, id := range ids {
		s, err := d.read(d.path(id))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out, errors.Join(errs...)
}

// Delete resolves id and removes the record.
func (d *diskStore) Delete(id string) error {
	full, err := d.resolve(id)
	if err != nil {
		return err
	}
	if err := os.Remove(d.path(full)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && id != "." && id != ".."
}
