package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

// FSStore is the filesystem play store. Layout:
//
//	<root>/new/<play_id>.json
//	<root>/open/<play_id>.json
//	...one directory per lifecycle status...
//
// Saves go through a temp file in the same partition followed by a rename,
// and moves between partitions are a single rename, so a crash never leaves
// a play missing or duplicated.
type FSStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSStore creates the store and its partition directories under root.
func NewFSStore(root string) (*FSStore, error) {
	for _, st := range models.AllStatuses {
		if err := os.MkdirAll(filepath.Join(root, string(st)), 0o755); err != nil {
			return nil, fmt.Errorf("creating partition %s: %w", st, err)
		}
	}
	return &FSStore{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// lockFor returns the mutex serializing writes for one play id.
func (s *FSStore) lockFor(playID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[playID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[playID] = l
	}
	return l
}

func (s *FSStore) playPath(status models.PlayStatus, playID string) string {
	return filepath.Join(s.root, string(status), playID+".json")
}

// ListByStatus returns every play in the partition, skipping temp files and
// anything that fails to parse (logged upstream by the caller via the error
// on Load if it cares about a specific play).
func (s *FSStore) ListByStatus(status models.PlayStatus) ([]*models.Play, error) {
	dir := filepath.Join(s.root, string(status))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading partition %s: %w", status, err)
	}

	plays := make([]*models.Play, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		p, err := s.Load(status, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		plays = append(plays, p)
	}
	return plays, nil
}

// Load reads one play from a partition. The play id is filename-derived when
// the record itself omits it.
func (s *FSStore) Load(status models.PlayStatus, playID string) (*models.Play, error) {
	data, err := os.ReadFile(s.playPath(status, playID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s/%s: %w", status, playID, ErrPlayNotFound)
		}
		return nil, fmt.Errorf("reading play %s: %w", playID, err)
	}

	var p models.Play
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing play %s: %w", playID, err)
	}
	if p.ID == "" {
		p.ID = playID
	}
	return &p, nil
}

// Find walks every partition looking for the play id.
func (s *FSStore) Find(playID string) (*models.Play, models.PlayStatus, error) {
	for _, st := range models.AllStatuses {
		if _, err := os.Stat(s.playPath(st, playID)); err != nil {
			continue
		}
		p, err := s.Load(st, playID)
		if err != nil {
			return nil, "", err
		}
		return p, st, nil
	}
	return nil, "", fmt.Errorf("%s: %w", playID, ErrPlayNotFound)
}

// Save writes the play into the partition atomically. Writes for the same
// play id are serialized; writes for different plays proceed in parallel.
func (s *FSStore) Save(from models.PlayStatus, play *models.Play) error {
	if play.ID == "" {
		return fmt.Errorf("play has no id")
	}
	l := s.lockFor(play.ID)
	l.Lock()
	defer l.Unlock()
	return s.writePlay(from, play)
}

func (s *FSStore) writePlay(status models.PlayStatus, play *models.Play) error {
	data, err := json.MarshalIndent(play, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling play %s: %w", play.ID, err)
	}

	final := s.playPath(status, play.ID)
	// Write to temp file first, in the same partition so the rename is
	// atomic on every filesystem that matters.
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing play %s: %w", play.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("committing play %s: %w", play.ID, err)
	}
	return nil
}

// Move persists the play in its current partition, then relocates the file
// with a single rename. A crash before the rename leaves the play in from;
// a crash after leaves it in to. It is never in both, never in neither.
func (s *FSStore) Move(play *models.Play, from, to models.PlayStatus) error {
	if play.ID == "" {
		return fmt.Errorf("play has no id")
	}
	if from == to {
		return s.Save(from, play)
	}
	l := s.lockFor(play.ID)
	l.Lock()
	defer l.Unlock()

	if err := s.writePlay(from, play); err != nil {
		return err
	}
	src := s.playPath(from, play.ID)
	dst := s.playPath(to, play.ID)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving play %s %s->%s: %w", play.ID, from, to, err)
	}
	return nil
}

// Delete removes the play file from a partition.
func (s *FSStore) Delete(status models.PlayStatus, playID string) error {
	l := s.lockFor(playID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.playPath(status, playID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s/%s: %w", status, playID, ErrPlayNotFound)
		}
		return fmt.Errorf("deleting play %s: %w", playID, err)
	}
	return nil
}
