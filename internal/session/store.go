// Package session implements Session Persistence (spec §4.9): per-
// conversation directories holding one history file and one optional
// context-summary file per agent role.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cih1996/AI-intelligent-agent-system/internal/providers"
)

// ErrNotFound is returned when a conversation directory does not exist.
var ErrNotFound = errors.New("session: conversation not found")

// Info is one row of GET /api/conversations.
type Info struct {
	CID          string
	MessageCount int
	ModifiedAt   time.Time
}

// Store is the Session Persistence contract of spec §4.9. All methods are
// safe for concurrent use across different cids; callers needing
// single-flight semantics for one cid (spec §5) serialize at a higher
// layer.
type Store interface {
	// Create mints a new cid, creates its directory, and returns it.
	Create() (string, error)
	// Delete removes the conversation directory entirely.
	Delete(cid string) error
	// List enumerates conversation directories sorted by the planner
	// session's mtime, descending.
	List(plannerAgent string) ([]Info, error)

	// LoadHistory returns the persisted non-system messages for
	// (cid, agentName). A missing file yields an empty slice, not an
	// error (readers tolerate transient empty/malformed files per §5).
	LoadHistory(cid, agentName string) ([]providers.Message, error)
	// AppendHistory atomically appends msgs to the persisted history.
	// Used to implement the append-on-success invariant of spec §8: a
	// successful chat() call appends exactly one user+assistant pair.
	AppendHistory(cid, agentName string, msgs ...providers.Message) error
	// SetHistory overwrites the persisted history (used by compaction,
	// which truncates history to the last few messages).
	SetHistory(cid, agentName string, msgs []providers.Message) error
	// ClearHistory empties the persisted history for (cid, agentName).
	ClearHistory(cid, agentName string) error

	// LoadSummary returns the persisted context summary, if any.
	LoadSummary(cid, agentName string) (summary string, ok bool, err error)
	// SaveSummary persists a new context summary.
	SaveSummary(cid, agentName, summary string) error
}

// FileStore is the on-disk Store implementation rooted at spec §4.9's
// conversations/ layout.
type FileStore struct {
	root string
}

// NewFileStore roots a FileStore at dir, creating it if necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create root %s: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

func (s *FileStore) cidDir(cid string) string {
	return filepath.Join(s.root, cid)
}

func (s *FileStore) historyPath(cid, agentName string) string {
	return filepath.Join(s.cidDir(cid), agentName+".session")
}

func (s *FileStore) summaryPath(cid, agentName string) string {
	return filepath.Join(s.cidDir(cid), agentName+"_summary.txt")
}

// Create implements Store.
func (s *FileStore) Create() (string, error) {
	cid := uuid.NewString()
	if err := os.MkdirAll(s.cidDir(cid), 0o755); err != nil {
		return "", fmt.Errorf("session: create conversation dir: %w", err)
	}
	return cid, nil
}

// Delete implements Store.
func (s *FileStore) Delete(cid string) error {
	dir := s.cidDir(cid)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrNotFound
	}
	return os.RemoveAll(dir)
}

// List implements Store.
func (s *FileStore) List(plannerAgent string) ([]Info, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list conversations: %w", err)
	}

	var infos []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cid := e.Name()
		path := s.historyPath(cid, plannerAgent)
		stat, err := os.Stat(path)
		var modified time.Time
		var count int
		if err == nil {
			modified = stat.ModTime()
			if msgs, lerr := s.LoadHistory(cid, plannerAgent); lerr == nil {
				count = len(msgs)
			}
		} else if dstat, derr := os.Stat(s.cidDir(cid)); derr == nil {
			modified = dstat.ModTime()
		}
		infos = append(infos, Info{CID: cid, MessageCount: count, ModifiedAt: modified})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
	})
	return infos, nil
}

type persistedMessage struct {
	Role    providers.Role `json:"role"`
	Content string         `json:"content"`
}

// LoadHistory implements Store.
func (s *FileStore) LoadHistory(cid, agentName string) ([]providers.Message, error) {
	data, err := os.ReadFile(s.historyPath(cid, agentName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read history: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var persisted []persistedMessage
	if err := json.Unmarshal(data, &persisted); err != nil {
		// Malformed history file: tolerate per §5, surface empty.
		return nil, nil
	}

	out := make([]providers.Message, 0, len(persisted))
	for _, m := range persisted {
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// AppendHistory implements Store.
func (s *FileStore) AppendHistory(cid, agentName string, msgs ...providers.Message) error {
	existing, err := s.LoadHistory(cid, agentName)
	if err != nil {
		return err
	}
	return s.SetHistory(cid, agentName, append(existing, msgs...))
}

// SetHistory implements Store.
func (s *FileStore) SetHistory(cid, agentName string, msgs []providers.Message) error {
	if err := os.MkdirAll(s.cidDir(cid), 0o755); err != nil {
		return fmt.Errorf("session: create conversation dir: %w", err)
	}

	persisted := make([]persistedMessage, 0, len(msgs))
	for _, m := range msgs {
		persisted = append(persisted, persistedMessage{Role: m.Role, Content: m.Content})
	}

	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("session: marshal history: %w", err)
	}

	return atomicWrite(s.historyPath(cid, agentName), data)
}

// ClearHistory implements Store.
func (s *FileStore) ClearHistory(cid, agentName string) error {
	return s.SetHistory(cid, agentName, nil)
}

// LoadSummary implements Store.
func (s *FileStore) LoadSummary(cid, agentName string) (string, bool, error) {
	data, err := os.ReadFile(s.summaryPath(cid, agentName))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("session: read summary: %w", err)
	}
	return string(data), true, nil
}

// SaveSummary implements Store.
func (s *FileStore) SaveSummary(cid, agentName, summary string) error {
	if err := os.MkdirAll(s.cidDir(cid), 0o755); err != nil {
		return fmt.Errorf("session: create conversation dir: %w", err)
	}
	return atomicWrite(s.summaryPath(cid, agentName), []byte(summary))
}

// atomicWrite writes data to path via a temp file + rename, the teacher's
// write-temp-then-rename idiom for safety against concurrent readers.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: rename temp file: %w", err)
	}
	return nil
}
