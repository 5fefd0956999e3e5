package search

import (
	"context"

	"github.com/hyperjump/vidrag/internal/config"
	"github.com/hyperjump/vidrag/internal/vectorstore"
)

// Roster supplies the cameras a wildcard search fans out to.
type Roster interface {
	Cameras(ctx context.Context) ([]string, error)
}

// StaticRoster is a fixed list of cameras from configuration.
type StaticRoster []string

// Cameras returns a copy of the list.
func (s StaticRoster) Cameras(ctx context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// DynamicRoster lists whatever partitions currently exist in the store.
type DynamicRoster struct {
	Store vectorstore.Store
}

// Cameras lists the store's partitions.
func (d DynamicRoster) Cameras(ctx context.Context) ([]string, error) {
	return d.Store.ListPartitions(ctx)
}

// NewRoster picks the roster mode configured in cfg.
func NewRoster(cfg config.SearchConfig, store vectorstore.Store) Roster {
	if cfg.Roster == config.RosterStatic {
		return StaticRoster(cfg.Cameras)
	}
	return DynamicRoster{Store: store}
}
