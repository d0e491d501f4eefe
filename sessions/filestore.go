package sessions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/jamesread/golure/pkg/redact"
	log "github.com/sirupsen/logrus"
)

// FileStore keeps session envelopes for many clients in a single YAML file,
// keyed by session ID. Writes go through a temp file and rename so a crash
// mid-write never corrupts the main file.
type FileStore struct {
	mu        sync.RWMutex
	envelopes map[string]*Envelope

	dir      string
	filename string
}

type fileStoreDocument struct {
	Sessions map[string]*Envelope `yaml:"sessions"`
}

// NewFileStore loads (or starts) the session file at dir/filename. A missing
// file is not an error; envelopes already past their expiry are dropped
// during load.
func NewFileStore(dir, filename string) (*FileStore, error) {
	s := &FileStore{
		envelopes: make(map[string]*Envelope),
		dir:       dir,
		filename:  filename,
	}

	cleanupOrphanedTempFile(s.path())

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, s.filename)
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	var doc fileStoreDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal session file: %w", err)
	}

	now := time.Now()
	for sid, env := range doc.Sessions {
		if env == nil || env.Provider == "" {
			continue
		}
		if env.Expired(now) {
			log.WithFields(log.Fields{
				"sid": redact.RedactString(sid),
			}).Debug("Dropping expired session during load")
			continue
		}
		s.envelopes[sid] = env
	}

	return nil
}

// save writes the whole session map atomically. Callers hold at least a read
// lock on s.mu.
func (s *FileStore) save() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	out, err := yaml.Marshal(&fileStoreDocument{Sessions: s.envelopes})
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	tempPath := s.path() + ".tmp"
	if err := os.WriteFile(tempPath, out, 0600); err != nil {
		return fmt.Errorf("write temporary session file: %w", err)
	}

	if err := os.Rename(tempPath, s.path()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename temporary session file: %w", err)
	}

	return nil
}

// cleanupOrphanedTempFile removes a stale .tmp file left behind by a crash
// during a previous write. Recent temp files are left alone in case another
// process is mid-write.
func cleanupOrphanedTempFile(path string) {
	tempPath := path + ".tmp"

	info, err := os.Stat(tempPath)
	if err != nil {
		return
	}

	age := time.Since(info.ModTime())
	if age < time.Hour {
		return
	}

	log.WithFields(log.Fields{
		"tempPath": tempPath,
		"age":      age,
	}).Warn("Removing orphaned temporary session file")

	if err := os.Remove(tempPath); err != nil {
		log.WithError(err).Warn("Failed to remove orphaned temporary session file")
	}
}

// ForSession returns the per-request Store view for one session ID.
func (s *FileStore) ForSession(sid string) Store {
	return &fileSession{store: s, sid: sid}
}

type fileSession struct {
	store *FileStore
	sid   string
}

func (f *fileSession) Get(ctx context.Context) (*Envelope, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	env, ok := f.store.envelopes[f.sid]
	if !ok {
		return nil, nil
	}

	copied := *env
	return &copied, nil
}

func (f *fileSession) Set(ctx context.Context, env Envelope) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	f.store.envelopes[f.sid] = &env
	return f.store.save()
}

func (f *fileSession) Clear(ctx context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if _, ok := f.store.envelopes[f.sid]; !ok {
		return nil
	}

	delete(f.store.envelopes, f.sid)
	return f.store.save()
}
