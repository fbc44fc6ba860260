// Package record defines the fixed-width on-disk and in-memory representation
// of a single LSM entry, and the three-way lookup status shared by the
// buffer, layer, and tree read paths.
package record

import (
	"encoding/binary"

	byteutil "lsmkv/utils/byte_util"
)

// Stride is the number of bytes a single serialized Record occupies on disk:
// a signed 32-bit key, a signed 32-bit value, and a 1-byte tombstone flag.
// It must match between every writer and every reader of a run file.
const Stride = 9

// Record is a (key, value, deleted) triple. Deleted is a tombstone: it
// asserts that there is no live value for Key as of this record's position
// in logical time.
type Record struct {
	Key     int32
	Value   int32
	Deleted bool
}

// Status is the outcome of a point lookup against a Buffer, Layer, or Tree.
type Status int

const (
	// Absent means no record for the key was observed at this level.
	Absent Status = iota
	// Found means a live value was observed.
	Found
	// Tombstoned means the newest record observed for the key is a tombstone.
	Tombstoned
)

// Less reports whether a sorts before b by key. Ties never occur within a
// single run or a single Buffer, but may occur when merging distinct runs.
func Less(a, b Record) bool {
	return a.Key < b.Key
}

// Encode serializes a single record into dst, which must be at least Stride
// bytes long, fields laid out in declaration order.
func Encode(r Record, dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], uint32(r.Key))
	binary.LittleEndian.PutUint32(dst[4:8], uint32(r.Value))
	dst[8] = byteutil.BoolToByte(r.Deleted)
}

// Decode deserializes a single record from src, which must be at least
// Stride bytes long.
func Decode(src []byte) Record {
	return Record{
		Key:     int32(binary.LittleEndian.Uint32(src[0:4])),
		Value:   int32(binary.LittleEndian.Uint32(src[4:8])),
		Deleted: byteutil.ByteToBool(src[8]),
	}
}

// EncodeAll serializes records into a contiguous packed byte array: the run
// file format is record_stride * len(records) bytes, record-aligned.
func EncodeAll(records []Record) []byte {
	buf := make([]byte, len(records)*Stride)
	for i, r := range records {
		Encode(r, buf[i*Stride:(i+1)*Stride])
	}
	return buf
}

// DecodeAll deserializes a contiguous packed byte array back into records.
// len(data) must be a multiple of Stride.
func DecodeAll(data []byte) []Record {
	records := make([]Record, len(data)/Stride)
	for i := range records {
		records[i] = Decode(data[i*Stride : (i+1)*Stride])
	}
	return records
}
