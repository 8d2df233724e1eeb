// Package sim hosts the server-side simulation: levels, scenes with their
// seats, the opaque physics engine boundary and the batched game-event
// buffer broadcast to playing clients.
package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLevel is returned when the provider has nothing to offer.
	ErrNoLevel = errors.New("no level available")
	// ErrLevelTooOld marks a level incompatible with the running version.
	ErrLevelTooOld = errors.New("level requires an older engine")
)

// Level describes one playable course.
type Level struct {
	ID string
	// Name is the human-readable title shown in clients.
	Name string
	// Length is the horizontal distance to the finish line, in meters.
	Length float64
	// Entities is the number of to-take items placed on the course.
	Entities int
	// TooOld marks a level the current engine no longer supports.
	TooOld bool
}

// Provider hands out the level for the next round.
type Provider interface {
	Next() (Level, error)
}

// Catalog is a Provider rotating through a fixed level list.
type Catalog struct {
	levels []Level
	cursor int
}

// NewCatalog builds a rotating provider over the given levels.
func NewCatalog(levels []Level) *Catalog {
	return &Catalog{levels: levels}
}

// DefaultCatalog returns the built-in course rotation.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Level{
		{ID: "lvl_hills_01", Name: "Rolling Start", Length: 120, Entities: 3},
		{ID: "lvl_hills_02", Name: "Double Crest", Length: 180, Entities: 5},
		{ID: "lvl_canyon_01", Name: "Canyon Run", Length: 240, Entities: 4},
	})
}

// Next returns the next level in rotation.
func (c *Catalog) Next() (Level, error) {
	if c == nil || len(c.levels) == 0 {
		return Level{}, ErrNoLevel
	}
	level := c.levels[c.cursor%len(c.levels)]
	c.cursor++
	if level.TooOld {
		return Level{}, fmt.Errorf("%w: %s", ErrLevelTooOld, level.ID)
	}
	return level, nil
}
