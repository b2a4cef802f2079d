// Package fleet holds the latest fully parsed vehicle collection for
// downstream readers.
package fleet

import (
	"sync/atomic"
	"time"

	"github.com/trimet-twin/pipeline/internal/models"
)

// Collection is the vehicle list parsed from one snapshot
type Collection struct {
	SnapshotID string
	QueryTime  string
	Vehicles   []models.Vehicle
	ReplacedAt time.Time
}

// Len returns the number of vehicles
func (c Collection) Len() int {
	return len(c.Vehicles)
}

// Find returns the vehicle with the given vehicleID
func (c Collection) Find(vehicleID string) (models.Vehicle, bool) {
	for _, v := range c.Vehicles {
		if v.VehicleID == vehicleID {
			return v, true
		}
	}
	return models.Vehicle{}, false
}

// List is a process-wide, swap-on-write holder of the current Collection.
// The zero value is an empty list ready to use.
type List struct {
	current atomic.Pointer[Collection]
}

// NewList creates an empty list
func NewList() *List {
	return &List{}
}

// Get returns the current collection without blocking. The Vehicles slice
// is shared with other readers and must not be modified.
func (l *List) Get() Collection {
	if c := l.current.Load(); c != nil {
		return *c
	}
	return Collection{}
}

// Replace makes c the current collection in one step; readers observe
// either the previous collection or c, never a mix.
func (l *List) Replace(c Collection) {
	if c.ReplacedAt.IsZero() {
		c.ReplacedAt = time.Now().UTC()
	}
	l.current.Store(&c)
}
