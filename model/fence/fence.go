// Package fence implements the page-range index that lets a Layer skip disk
// pages that cannot contain a queried key.
package fence

import "lsmkv/model/record"

// Pointer summarizes the key range of one on-disk page of a run: records at
// positions [Offset, Offset+Count) in the run file, with keys ranging from
// Min to Max inclusive.
type Pointer struct {
	Min, Max int32
	Offset   int
	Count    int
}

// Build partitions sorted into page-aligned, non-overlapping, ascending
// ranges of at most pageSize records apiece. The concatenation of the
// ranges' record spans equals sorted. Build only makes sense for runs
// larger than one page; callers are expected to skip calling it otherwise.
func Build(sorted []record.Record, pageSize int) []Pointer {
	if pageSize <= 0 {
		pageSize = 1
	}
	pointers := make([]Pointer, 0, (len(sorted)+pageSize-1)/pageSize)
	for start := 0; start < len(sorted); start += pageSize {
		end := start + pageSize
		if end > len(sorted) {
			end = len(sorted)
		}
		pointers = append(pointers, Pointer{
			Min:    sorted[start].Key,
			Max:    sorted[end-1].Key,
			Offset: start,
			Count:  end - start,
		})
	}
	return pointers
}

// Find linearly scans pointers for the page whose range contains key,
// returning it and true, or the zero Pointer and false if no page covers
// key. The fence-pointer invariant guarantees at most one match.
func Find(pointers []Pointer, key int32) (Pointer, bool) {
	for _, p := range pointers {
		if key >= p.Min && key <= p.Max {
			return p, true
		}
	}
	return Pointer{}, false
}
