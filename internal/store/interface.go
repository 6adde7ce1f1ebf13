// Package store persists plays on the filesystem, one JSON file per play,
// partitioned into one directory per lifecycle status. The store owns the
// play files exclusively; every other component refers to plays by id.
package store

import (
	"errors"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

// ErrPlayNotFound is returned when no partition holds the requested play.
var ErrPlayNotFound = errors.New("play not found")

// Interface is the contract for play persistence.
//
// Implementations must be safe for concurrent use - callers can assume all
// methods are goroutine-safe. The provided FSStore serializes writes per
// play id, so two goroutines saving different plays never block each other.
type Interface interface {
	// ListByStatus returns every play currently in the given partition.
	ListByStatus(status models.PlayStatus) ([]*models.Play, error)

	// Load returns one play from a specific partition.
	Load(status models.PlayStatus, playID string) (*models.Play, error)

	// Find locates a play by id across all partitions.
	Find(playID string) (*models.Play, models.PlayStatus, error)

	// Save writes the play into the partition named by from. The write is
	// atomic: readers either see the previous version or the new one.
	Save(from models.PlayStatus, play *models.Play) error

	// Move persists the play and relocates its file from one partition to
	// another in a single rename, so the play is discoverable in exactly
	// one partition at every instant.
	Move(play *models.Play, from, to models.PlayStatus) error

	// Delete removes the play file from the given partition.
	Delete(status models.PlayStatus, playID string) error
}

// NewStore creates the default filesystem-backed store rooted at dir.
func NewStore(dir string) (Interface, error) {
	return NewFSStore(dir)
}

// Ensure FSStore implements Interface
var _ Interface = (*FSStore)(nil)
