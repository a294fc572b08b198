package registry

import (
	"fmt"
	"log"
)

// Loader registers the tools found at one location
type Loader func(r *Registry) error

// Locations maps a location name to its loader
type Locations map[string]Loader

// DefaultLocations is scanned when the caller does not name any
var DefaultLocations = []string{"builtin"}

// Discover loads every named location into a staged table and swaps it in.
// Unknown names are skipped; a loader error leaves the current table intact.
func (r *Registry) Discover(locations Locations, names []string, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	if len(names) == 0 {
		names = DefaultLocations
	}

	staged := New(r.policy)
	for _, name := range names {
		load, ok := locations[name]
		if !ok {
			logger.Printf("Skipping unknown tool location: %s", name)
			continue
		}

		before := staged.Len()
		if err := load(staged); err != nil {
			return fmt.Errorf("failed to load tool location %s: %w", name, err)
		}
		logger.Printf("Loaded %d tools from location %s", staged.Len()-before, name)
	}

	r.replace(staged)
	return nil
}

// Discover builds a new registry from the named locations
func Discover(locations Locations, names []string, policy DuplicatePolicy, logger *log.Logger) (*Registry, error) {
	r := New(policy)
	if err := r.Discover(locations, names, logger); err != nil {
		return nil, err
	}
	return r, nil
}
