package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps one JSON file per DID under a directory. Every write
// goes through a temp file in the same directory followed by a rename,
// so a crash mid-write never leaves a torn record. Writers to the same
// DID serialize on a per-key mutex.
type FileStore struct {
	dir string

	mu    sync.Mutex // guards keys
	locks map[string]*sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("registry: create store dir: %w", err)
	}
	return &FileStore{dir: dir, locks: map[string]*sync.Mutex{}}, nil
}

func (s *FileStore) keyLock(did string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[did]
	if !ok {
		l = &sync.Mutex{}
		s.locks[did] = l
	}
	return l
}

// didFilename maps a DID to a filename. Query escaping keeps ':' and
// '/' out of the name while distinct DIDs stay distinct.
func didFilename(did string) string {
	return url.QueryEscape(did) + ".json"
}

func (s *FileStore) path(did string) string {
	return filepath.Join(s.dir, didFilename(did))
}

func (s *FileStore) writeAtomic(did string, a *Agent) error {
	enc, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".agent-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(enc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(did))
}

func (s *FileStore) read(did string) (*Agent, error) {
	enc, err := os.ReadFile(s.path(did))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var a Agent
	if err := json.Unmarshal(enc, &a); err != nil {
		return nil, fmt.Errorf("registry: corrupt record for %s: %w", did, err)
	}
	return &a, nil
}

func (s *FileStore) PutAgent(ctx context.Context, a Agent) error {
	_ = ctx
	l := s.keyLock(a.DID)
	l.Lock()
	defer l.Unlock()
	if _, err := os.Stat(s.path(a.DID)); err == nil {
		return ErrAlreadyExists
	}
	return s.writeAtomic(a.DID, &a)
}

func (s *FileStore) GetAgent(ctx context.Context, did string) (*Agent, error) {
	_ = ctx
	return s.read(did)
}

func (s *FileStore) DeleteAgent(ctx context.Context, did string) error {
	_ = ctx
	l := s.keyLock(did)
	l.Lock()
	defer l.Unlock()
	err := os.Remove(s.path(did))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (s *FileStore) ListAgents(ctx context.Context) ([]Agent, error) {
	_ = ctx
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []Agent
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		enc, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var a Agent
		if err := json.Unmarshal(enc, &a); err != nil {
			return nil, fmt.Errorf("registry: corrupt record %s: %w", e.Name(), err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *FileStore) UpdateAgent(ctx context.Context, did string, fn func(*Agent) error) (*Agent, error) {
	_ = ctx
	l := s.keyLock(did)
	l.Lock()
	defer l.Unlock()
	a, err := s.read(did)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	a.UpdatedAt = time.Now().UTC()
	if err := s.writeAtomic(did, a); err != nil {
		return nil, err
	}
	return a, nil
}
