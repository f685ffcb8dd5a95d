// Package memory implements the Memory Store (spec §4.3): a per-
// conversation directory of category files, each a JSON list of Memory
// Shards, with change-op application and outline projection.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cih1996/AI-intelligent-agent-system/internal/observability"
)

// Store is rooted at <memory-root>/, one subdirectory per cid.
type Store struct {
	root    string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// SetMetrics attaches a metrics sink; nil disables instrumentation.
func (s *Store) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// NewStore roots a Store at dir, creating it if necessary.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create root %s: %w", dir, err)
	}
	return &Store{root: dir, logger: logger.With("component", "memory.Store")}, nil
}

func (s *Store) categoryPath(cid, category string) string {
	return filepath.Join(s.root, cid, category+".json")
}

// DeleteConversation removes a cid's entire memory subtree (spec §4.9,
// DELETE /api/conversations/<cid>).
func (s *Store) DeleteConversation(cid string) error {
	if err := os.RemoveAll(filepath.Join(s.root, cid)); err != nil {
		return fmt.Errorf("memory: delete %s: %w", cid, err)
	}
	return nil
}

// ScanOutlines lists category files under cid and counts shards per
// category without fully parsing payloads — it only needs the top-level
// list length, counted from gjson's parse of the top-level array
// (elements are never unmarshalled into shards).
func (s *Store) ScanOutlines(cid string) (map[string]int, error) {
	dir := filepath.Join(s.root, cid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("memory: scan outlines: %w", err)
	}

	outlines := map[string]int{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		category := strings.TrimSuffix(e.Name(), ".json")
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn("scan_outlines: unreadable category file", "category", category, "error", err)
			continue
		}
		result := gjson.ParseBytes(data)
		if !result.IsArray() {
			s.logger.Warn("scan_outlines: malformed category file", "category", category)
			continue
		}
		outlines[category] = len(result.Array())
	}
	return outlines, nil
}

// LoadCategory loads and parses one category's shard list. Missing,
// empty, or malformed files yield [] with a logged warning, never an
// error — readers must tolerate transient malformed writes (spec §5).
func (s *Store) LoadCategory(cid, category string) []Shard {
	data, err := os.ReadFile(s.categoryPath(cid, category))
	if err != nil {
		s.logger.Warn("load_category: read failed", "category", category, "error", err)
		return nil
	}
	if strings.TrimSpace(string(data)) == "" {
		s.logger.Warn("load_category: empty file", "category", category)
		return nil
	}

	var shards []Shard
	if err := json.Unmarshal(data, &shards); err != nil {
		s.logger.Warn("load_category: malformed JSON", "category", category, "error", err)
		return nil
	}
	return shards
}

// ResolvePath resolves "<category>.<key>" to a shard, or nil if the path
// is malformed or no such shard exists (spec §4.3, §8).
func (s *Store) ResolvePath(cid, path string) *Shard {
	parts := strings.Split(path, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil
	}
	category, key := parts[0], parts[1]
	for _, shard := range s.LoadCategory(cid, category) {
		if shard.Key == key {
			shardCopy := shard
			return &shardCopy
		}
	}
	return nil
}

// ApplyChanges groups ops by category, validates each, and applies valid
// ops in order against that category's list, writing back atomically.
// Invalid ops are dropped (with a warning) without preventing sibling
// ops from applying (spec §4.3).
func (s *Store) ApplyChanges(cid string, ops []ChangeOp) (ApplyResult, error) {
	var result ApplyResult

	byCategory := map[string][]ChangeOp{}
	for _, op := range ops {
		if !op.Valid() {
			s.logger.Warn("apply_changes: dropping invalid change op", "action", op.Action, "key", op.Key, "category", op.Category)
			s.metrics.RecordMemoryChange(op.Action, "dropped")
			continue
		}
		byCategory[op.Category] = append(byCategory[op.Category], op)
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	for _, category := range categories {
		added, updated, deleted, err := s.applyCategoryChanges(cid, category, byCategory[category])
		if err != nil {
			return result, err
		}
		result.Added += added
		result.Updated += updated
		result.Deleted += deleted
	}

	return result, nil
}

func (s *Store) applyCategoryChanges(cid, category string, ops []ChangeOp) (added, updated, deleted int, err error) {
	existing := s.LoadCategory(cid, category)
	byKey := make(map[string]*Shard, len(existing))
	order := make([]string, 0, len(existing))
	for i := range existing {
		byKey[existing[i].Key] = &existing[i]
		order = append(order, existing[i].Key)
	}

	now := time.Now()

	for _, op := range ops {
		switch op.Action {
		case ActionAdd:
			if shard, ok := byKey[op.Key]; ok {
				shard.Payload = op.Payload
				shard.Importance = op.Importance
				shard.Source = op.Source
				shard.Tags = op.Tags
				shard.TriggerCount++
				shard.UpdatedAt = now
				shard.LastTriggered = now
				updated++
				s.metrics.RecordMemoryChange(ActionAdd, "applied")
			} else {
				newShard := &Shard{
					Key:           op.Key,
					Category:      category,
					Payload:       op.Payload,
					Importance:    op.Importance,
					Source:        op.Source,
					Tags:          op.Tags,
					TriggerCount:  1,
					CreatedAt:     now,
					UpdatedAt:     now,
					LastTriggered: now,
				}
				byKey[op.Key] = newShard
				order = append(order, op.Key)
				added++
				s.metrics.RecordMemoryChange(ActionAdd, "applied")
			}
		case ActionDel:
			if _, ok := byKey[op.Key]; !ok {
				s.logger.Warn("apply_changes: delete of missing key is a no-op", "category", category, "key", op.Key)
				s.metrics.RecordMemoryChange(ActionDel, "dropped")
				continue
			}
			delete(byKey, op.Key)
			deleted++
			s.metrics.RecordMemoryChange(ActionDel, "applied")
		}
	}

	out := make([]Shard, 0, len(byKey))
	for _, key := range order {
		if shard, ok := byKey[key]; ok {
			out = append(out, *shard)
		}
	}

	if err := s.writeCategory(cid, category, out); err != nil {
		return added, updated, deleted, err
	}
	return added, updated, deleted, nil
}

func (s *Store) writeCategory(cid, category string, shards []Shard) error {
	if shards == nil {
		shards = []Shard{}
	}
	path := s.categoryPath(cid, category)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memory: create category dir: %w", err)
	}

	data, err := json.Marshal(shards)
	if err != nil {
		return fmt.Errorf("memory: marshal category %s: %w", category, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("memory: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("memory: close temp file: %w", err)
	}
	return os.Rename(tmpPath, path)
}
