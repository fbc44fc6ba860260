package layer

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"lsmkv/lsm/cache"
	"lsmkv/lsm/storage"
	"lsmkv/model/record"
	"lsmkv/structures/bloomfilter"
	"lsmkv/utils/config"
)

func testLayer(rank int, cfg *config.Config) (*Layer, storage.FileSystem) {
	fs := storage.NewMemory()
	pc := cache.New(16)
	return New(rank, cfg, fs, pc), fs
}

func sorted(recs ...record.Record) []record.Record {
	out := append([]record.Record{}, recs...)
	sort.Slice(out, func(i, j int) bool { return record.Less(out[i], out[j]) })
	return out
}

func TestAddRunFromBufferThenGet(t *testing.T) {
	cfg := config.Default()
	l, _ := testLayer(0, cfg)

	full, err := l.AddRunFromBuffer(sorted(
		record.Record{Key: 1, Value: 10},
		record.Record{Key: 2, Value: 20},
	))
	require.NoError(t, err)
	require.False(t, full)

	v, status, err := l.Get(2)
	require.NoError(t, err)
	require.Equal(t, record.Found, status)
	require.EqualValues(t, 20, v)

	_, status, err = l.Get(99)
	require.NoError(t, err)
	require.Equal(t, record.Absent, status)
}

func TestLayerBecomesFullAtNumRuns(t *testing.T) {
	cfg := config.Default()
	cfg.SizeRatio = 2
	l, _ := testLayer(0, cfg)

	full, err := l.AddRunFromBuffer(sorted(record.Record{Key: 1, Value: 1}))
	require.NoError(t, err)
	require.False(t, full)
	require.False(t, l.Full())

	full, err = l.AddRunFromBuffer(sorted(record.Record{Key: 2, Value: 2}))
	require.NoError(t, err)
	require.True(t, full)
	require.True(t, l.Full())
}

func TestMergeNewestWinsOnDuplicateKeys(t *testing.T) {
	cfg := config.Default()
	cfg.SizeRatio = 3
	fs := storage.NewMemory()
	pc := cache.New(16)
	l := New(0, cfg, fs, pc)

	_, err := l.AddRunFromBuffer(sorted(
		record.Record{Key: 4, Value: 8},
		record.Record{Key: 2, Value: 4},
		record.Record{Key: 1, Value: 90},
	))
	require.NoError(t, err)

	_, err = l.AddRunFromBuffer(sorted(
		record.Record{Key: 4, Value: 5},
		record.Record{Key: 5, Value: 8},
		record.Record{Key: 20, Value: 9},
	))
	require.NoError(t, err)

	_, err = l.AddRunFromBuffer(sorted(record.Record{Key: 100, Value: 1}))
	require.NoError(t, err)
	require.True(t, l.Full())

	name, size, _, _, err := l.Merge()
	require.NoError(t, err)
	require.Equal(t, "run_0_temp", name)

	gotKeys := make([]int32, 0, size)
	gotValues := make(map[int32]int32, size)

	// Reconstruct the merge output via Get after promoting the run into a
	// fresh layer at the same rank, sharing the same filesystem.
	l2 := New(0, cfg, fs, pc)
	_, err = l2.AddRun(name, size, nil, nil)
	require.NoError(t, err)

	for _, k := range []int32{1, 2, 4, 5, 20, 100} {
		v, status, err := l2.Get(k)
		require.NoError(t, err)
		require.Equal(t, record.Found, status)
		gotKeys = append(gotKeys, k)
		gotValues[k] = v
	}
	require.EqualValues(t, 90, gotValues[1])
	require.EqualValues(t, 4, gotValues[2])
	require.EqualValues(t, 5, gotValues[4], "key 4 must take the value from the newer run")
	require.EqualValues(t, 8, gotValues[5])
	require.EqualValues(t, 9, gotValues[20])
	require.Equal(t, []int32{1, 2, 4, 5, 20, 100}, gotKeys)
}

func TestMergeOutputIsSortedAndKeyUnique(t *testing.T) {
	cfg := config.Default()
	cfg.SizeRatio = 2
	l, fs := testLayer(0, cfg)

	_, err := l.AddRunFromBuffer(sorted(
		record.Record{Key: 5, Value: 1},
		record.Record{Key: 1, Value: 1},
		record.Record{Key: 3, Value: 1},
	))
	require.NoError(t, err)
	_, err = l.AddRunFromBuffer(sorted(
		record.Record{Key: 3, Value: 2},
		record.Record{Key: 2, Value: 1},
	))
	require.NoError(t, err)

	name, size, _, _, err := l.Merge()
	require.NoError(t, err)
	require.Equal(t, 4, size, "duplicate key 3 must collapse to one record")

	data, err := fs.ReadAt(name, 0, int64(size)*record.Stride)
	require.NoError(t, err)
	records := record.DecodeAll(data)

	for i := 1; i < len(records); i++ {
		require.Less(t, records[i-1].Key, records[i].Key)
	}
}

func TestMergeResetsLayerAndDeletesRunFiles(t *testing.T) {
	cfg := config.Default()
	cfg.SizeRatio = 2
	l, fs := testLayer(0, cfg)

	l.AddRunFromBuffer(sorted(record.Record{Key: 1, Value: 1}))
	l.AddRunFromBuffer(sorted(record.Record{Key: 2, Value: 2}))
	require.True(t, l.Full())

	_, _, _, _, err := l.Merge()
	require.NoError(t, err)

	require.True(t, l.Empty())
	require.Equal(t, 0, l.CurrentRun())

	_, err = fs.ReadAt("run_0_0", 0, record.Stride)
	require.Error(t, err, "run files belonging to a reset layer must be removed")
}

func TestFencePointersBuiltOnlyAboveOnePage(t *testing.T) {
	cfg := config.Default()
	cfg.KVPairPerPage = 2
	l, _ := testLayer(0, cfg)

	_, err := l.AddRunFromBuffer(sorted(record.Record{Key: 1, Value: 1}))
	require.NoError(t, err)
	require.Nil(t, l.runs[0].fences, "a run no larger than one page needs no fence pointers")

	l2, _ := testLayer(0, cfg)
	_, err = l2.AddRunFromBuffer(sorted(
		record.Record{Key: 1, Value: 1},
		record.Record{Key: 2, Value: 2},
		record.Record{Key: 3, Value: 3},
	))
	require.NoError(t, err)
	require.NotNil(t, l2.runs[0].fences)
}

func TestGetOfTombstoneReturnsTombstoned(t *testing.T) {
	cfg := config.Default()
	l, _ := testLayer(0, cfg)

	_, err := l.AddRunFromBuffer(sorted(record.Record{Key: 1, Value: 1, Deleted: true}))
	require.NoError(t, err)

	_, status, err := l.Get(1)
	require.NoError(t, err)
	require.Equal(t, record.Tombstoned, status)
}

func TestSketchSkippedAtOrBeyondLevelWithBF(t *testing.T) {
	cfg := config.Default()
	cfg.LevelWithBF = 1
	l, _ := testLayer(1, cfg)

	_, err := l.AddRunFromBuffer(sorted(record.Record{Key: 1, Value: 1}))
	require.NoError(t, err)
	require.NotNil(t, l.runs[0].sketch, "AddRunFromBuffer always builds a sketch regardless of rank")

	// Swap in an empty sketch, which reports every key as absent. At rank 1
	// with LevelWithBF=1, Get must not rely on the sketch to skip the run --
	// it always checks.
	l.runs[0].sketch = bloomfilter.New(1, cfg.FPRate0)
	require.False(t, l.runs[0].sketch.PossiblyContains(1))
	v, status, err := l.Get(1)
	require.NoError(t, err)
	require.Equal(t, record.Found, status)
	require.EqualValues(t, 1, v)
}
