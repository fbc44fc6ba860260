// Package layer implements one level of the tree: the ordered collection
// of runs at a given rank, the recency-preserving merge that collapses a
// full level into a single run, and the sketch/fence-assisted point lookup
// against it.
package layer

import (
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"lsmkv/lsm/cache"
	"lsmkv/lsm/storage"
	"lsmkv/model/fence"
	"lsmkv/model/record"
	"lsmkv/structures/bloomfilter"
	"lsmkv/utils/config"
)

// runMeta is the accessory state a Layer keeps in memory for one run: its
// file name, record count, and optional membership sketch and fence index.
type runMeta struct {
	name   string
	size   int
	sketch *bloomfilter.Filter
	fences []fence.Pointer
}

// Layer holds at most cfg.NumRuns() runs at a fixed rank.
type Layer struct {
	rank  int
	cfg   *config.Config
	fs    storage.FileSystem
	cache *cache.PageCache
	runs  []runMeta
}

// New returns an empty Layer at rank, backed by fs and sharing pc for page
// reads.
func New(rank int, cfg *config.Config, fs storage.FileSystem, pc *cache.PageCache) *Layer {
	return &Layer{rank: rank, cfg: cfg, fs: fs, cache: pc}
}

// Rank returns the layer's depth index; 0 is nearest the buffer.
func (l *Layer) Rank() int {
	return l.rank
}

// CurrentRun returns the number of runs currently held.
func (l *Layer) CurrentRun() int {
	return len(l.runs)
}

// Full reports whether the layer has accumulated cfg.NumRuns() runs.
func (l *Layer) Full() bool {
	return len(l.runs) >= l.cfg.NumRuns()
}

// Empty reports whether the layer holds no runs.
func (l *Layer) Empty() bool {
	return len(l.runs) == 0
}

func (l *Layer) runName(n int) string {
	return fmt.Sprintf("run_%d_%d", l.rank, n)
}

func (l *Layer) tempName() string {
	return fmt.Sprintf("run_%d_temp", l.rank)
}

// AddRunFromBuffer writes sorted buffer records as a fresh run at the next
// free slot, building a sketch sized by the record count and the
// configured base false-positive rate, and fence pointers if the run spans
// more than one page. It reports whether the layer is now full.
func (l *Layer) AddRunFromBuffer(records []record.Record) (bool, error) {
	name := l.runName(len(l.runs))
	if err := l.fs.CreateAppend(name, record.EncodeAll(records)); err != nil {
		return false, fmt.Errorf("layer: failed to write run %s: %w", name, err)
	}

	sketch := bloomfilter.New(len(records), l.cfg.FPRate0)
	for _, r := range records {
		sketch.Add(r.Key)
	}

	var fences []fence.Pointer
	if len(records) > l.cfg.KVPairPerPage {
		fences = fence.Build(records, l.cfg.KVPairPerPage)
	}

	l.runs = append(l.runs, runMeta{name: name, size: len(records), sketch: sketch, fences: fences})
	return l.Full(), nil
}

// AddRun promotes sourceName (produced by a lower layer's Merge) into the
// next free slot, taking ownership of its accessory structures. It reports
// whether the layer is now full.
func (l *Layer) AddRun(sourceName string, size int, sketch *bloomfilter.Filter, fences []fence.Pointer) (bool, error) {
	name := l.runName(len(l.runs))
	if err := l.fs.Rename(sourceName, name); err != nil {
		return false, fmt.Errorf("layer: failed to promote %s to %s: %w", sourceName, name, err)
	}
	l.runs = append(l.runs, runMeta{name: name, size: size, sketch: sketch, fences: fences})
	return l.Full(), nil
}

// Merge combines every run in the layer into one sorted, key-unique run
// honoring the newest-wins recency rule, writes it to a temporary file, and
// resets the layer. The caller is responsible for promoting the returned
// file into the next layer via AddRun.
func (l *Layer) Merge() (name string, size int, sketch *bloomfilter.Filter, fences []fence.Pointer, err error) {
	loaded := make([][]record.Record, len(l.runs))
	for i, rm := range l.runs {
		data, err := l.fs.ReadAt(rm.name, 0, int64(rm.size)*record.Stride)
		if err != nil {
			return "", 0, nil, nil, fmt.Errorf("layer: failed to read run %s for merge: %w", rm.name, err)
		}
		loaded[i] = record.DecodeAll(data)
	}

	merged := mergeFrontier(loaded)

	name = l.tempName()
	if err := l.fs.CreateAppend(name, record.EncodeAll(merged)); err != nil {
		return "", 0, nil, nil, fmt.Errorf("layer: failed to write merge output %s: %w", name, err)
	}

	if l.rank < l.cfg.LevelWithBF-1 {
		fpRate := l.cfg.FPRate0 * math.Pow(float64(l.cfg.SizeRatio), float64(l.rank))
		sketch = bloomfilter.New(len(merged), fpRate)
		for _, r := range merged {
			sketch.Add(r.Key)
		}
	}

	if len(merged) > l.cfg.KVPairPerPage {
		fences = fence.Build(merged, l.cfg.KVPairPerPage)
	}

	l.reset()
	return name, len(merged), sketch, fences, nil
}

// mergeFrontier implements the linear frontier scan: at each step it finds
// the smallest current key across every still-active run, and emits the
// record belonging to the highest-indexed (newest) run among the runs
// currently positioned at that key. A min-heap would lose this tiebreak.
func mergeFrontier(runs [][]record.Record) []record.Record {
	idx := make([]int, len(runs))
	active := 0
	for i, r := range runs {
		if len(r) == 0 {
			idx[i] = -1
		} else {
			active++
		}
	}

	var out []record.Record
	var winners []int
	for active > 0 {
		winners = winners[:0]
		var min int32
		first := true
		for i, r := range runs {
			if idx[i] == -1 {
				continue
			}
			key := r[idx[i]].Key
			if first || key < min {
				min = key
				winners = winners[:0]
				winners = append(winners, i)
				first = false
			} else if key == min {
				winners = append(winners, i)
			}
		}

		winner := winners[len(winners)-1]
		out = append(out, runs[winner][idx[winner]])

		for _, w := range winners {
			idx[w]++
			if idx[w] >= len(runs[w]) {
				idx[w] = -1
				active--
			}
		}
	}
	return out
}

// reset empties the layer, invalidating cached pages and deleting every run
// file. A file that has already gone missing is logged and otherwise
// ignored, matching the non-fatal treatment the design assigns remove
// failures.
func (l *Layer) reset() {
	for i := range l.runs {
		name := l.runName(i)
		l.cache.InvalidateFile(name)
		if err := l.fs.Remove(name); err != nil {
			klog.Warningf("layer: failed to remove run %s during reset: %v", name, err)
		}
	}
	l.runs = nil
}

// Get consults the layer's runs from newest to oldest, consulting a run's
// sketch first unless the layer is at or beyond the rank where sketches
// stop being maintained.
func (l *Layer) Get(key int32) (int32, record.Status, error) {
	for i := len(l.runs) - 1; i >= 0; i-- {
		rm := l.runs[i]
		if l.rank < l.cfg.LevelWithBF && rm.sketch != nil && !rm.sketch.PossiblyContains(key) {
			continue
		}
		value, status, err := l.checkRun(key, i)
		if err != nil {
			return 0, record.Absent, err
		}
		if status != record.Absent {
			return value, status, nil
		}
	}
	return 0, record.Absent, nil
}

// checkRun reads the page of run i that could hold key, using the run's
// fence pointers if it has any, and linear-scans that page. The sketch
// check in Get is advisory; this scan is authoritative.
func (l *Layer) checkRun(key int32, i int) (int32, record.Status, error) {
	rm := l.runs[i]

	offset, count := 0, rm.size
	if rm.fences != nil {
		p, ok := fence.Find(rm.fences, key)
		if !ok {
			return 0, record.Absent, nil
		}
		offset, count = p.Offset, p.Count
	}

	byteOffset := int64(offset) * record.Stride
	byteLength := int64(count) * record.Stride

	data, ok := l.cache.Get(rm.name, byteOffset, byteLength)
	if !ok {
		var err error
		data, err = l.fs.ReadAt(rm.name, byteOffset, byteLength)
		if err != nil {
			return 0, record.Absent, fmt.Errorf("layer: failed to read page of run %s: %w", rm.name, err)
		}
		l.cache.Put(rm.name, byteOffset, byteLength, data)
	}

	for _, r := range record.DecodeAll(data) {
		if r.Key == key {
			if r.Deleted {
				return 0, record.Tombstoned, nil
			}
			return r.Value, record.Found, nil
		}
	}
	return 0, record.Absent, nil
}
