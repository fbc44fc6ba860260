// Package lsm implements the tree driver: the component that sequences
// writes through the buffer and the layers, and cascades a full level's
// merge output into its successor, growing the layer sequence on demand.
package lsm

import (
	"fmt"

	"lsmkv/lsm/buffer"
	"lsmkv/lsm/cache"
	"lsmkv/lsm/layer"
	"lsmkv/lsm/storage"
	"lsmkv/model/record"
	"lsmkv/utils/config"
)

// Tree is a Buffer plus a growable sequence of Layers with monotonically
// increasing rank. Layer 0 always exists.
type Tree struct {
	cfg    *config.Config
	fs     storage.FileSystem
	cache  *cache.PageCache
	buf    *buffer.Buffer
	layers []*layer.Layer
}

// NewTree constructs a Tree over fs using cfg's tuning, with a single
// empty layer 0 already present.
func NewTree(cfg *config.Config, fs storage.FileSystem) (*Tree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pc := cache.New(cfg.ReadPathCacheCapacity)
	t := &Tree{
		cfg:   cfg,
		fs:    fs,
		cache: pc,
		buf:   buffer.New(cfg.BufferCapacity),
	}
	t.layers = append(t.layers, layer.New(0, cfg, fs, pc))
	return t, nil
}

// Put inserts or overwrites key's value. A write that fills the buffer
// triggers a flush down through the layers.
func (t *Tree) Put(key, value int32) error {
	if t.buf.Put(key, value) {
		return t.flush()
	}
	return nil
}

// Del tombstones key. A write that fills the buffer triggers a flush down
// through the layers.
func (t *Tree) Del(key int32) error {
	if t.buf.Delete(key) {
		return t.flush()
	}
	return nil
}

// Get consults the buffer, then every layer from rank 0 upward, returning
// the first live value found. It reports false if the key was never
// written, or if the newest record for it is a tombstone.
func (t *Tree) Get(key int32) (int32, bool, error) {
	if v, status := t.buf.Get(key); status != record.Absent {
		return v, status == record.Found, nil
	}

	for _, l := range t.layers {
		v, status, err := l.Get(key)
		if err != nil {
			return 0, false, err
		}
		if status != record.Absent {
			return v, status == record.Found, nil
		}
	}
	return 0, false, nil
}

// flush sorts and pushes the buffer into layer 0 as a new run, then
// cascades any resulting chain of full layers into their successors,
// appending a new layer if the cascade reaches the bottom.
func (t *Tree) flush() error {
	t.buf.Sort()
	full, err := t.layers[0].AddRunFromBuffer(t.buf.Records())
	if err != nil {
		return fmt.Errorf("lsm: failed to flush buffer to layer 0: %w", err)
	}
	t.buf.Reset()
	if !full {
		return nil
	}

	level := 0
	for level+1 < len(t.layers) {
		full, err = t.layerFlush(level, level+1)
		if err != nil {
			return err
		}
		if !full {
			return nil
		}
		level++
	}

	// The cascade reached the last layer and it is still full: grow the
	// tree by one rank and absorb the merge there. Indexing by position
	// rather than holding a reference across the append is required: the
	// loop above never retains a *Layer across this point, since append
	// may reallocate the backing array.
	t.layers = append(t.layers, layer.New(len(t.layers), t.cfg, t.fs, t.cache))
	_, err = t.layerFlush(level, level+1)
	return err
}

// layerFlush merges layers[low] into a single run and promotes it into
// layers[high], returning whether layers[high] is now full.
func (t *Tree) layerFlush(low, high int) (bool, error) {
	name, size, sketch, fences, err := t.layers[low].Merge()
	if err != nil {
		return false, fmt.Errorf("lsm: failed to merge layer %d: %w", low, err)
	}
	full, err := t.layers[high].AddRun(name, size, sketch, fences)
	if err != nil {
		return false, fmt.Errorf("lsm: failed to promote merge output into layer %d: %w", high, err)
	}
	return full, nil
}
