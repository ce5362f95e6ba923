// Package codec serializes command log records.
//
// Every record is written as a self-delimiting frame:
//
//	crc32   uint32  IEEE checksum of every byte after this field
//	kind    uint8   1 = set, 2 = remove
//	flags   uint8   value compression (set only)
//	keyLen  uint32
//	valLen  uint32  set only
//	key     keyLen bytes
//	value   valLen bytes (set only)
//
// All integers are big-endian. The header alone determines the frame length,
// so a reader never has to look past the end of a record to find the next one.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/downfa11-org/go-kvs/pkg/types"
	"github.com/downfa11-org/go-kvs/util"
)

const (
	crcSize = 4
	// PrefixSize is the part of the header shared by both record kinds.
	PrefixSize = crcSize + 1 + 1 + 4
	// MaxHeaderSize is the header size of a set record.
	MaxHeaderSize = PrefixSize + 4

	// values shorter than this are stored raw regardless of the configured codec
	minCompressSize = 64
)

// ErrCorruptRecord is returned when a frame cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt record")

func corrupt(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptRecord, fmt.Sprintf(format, v...))
}

// Encoder encodes records, compressing set values with a fixed codec.
type Encoder struct {
	compression util.Compression
}

func NewEncoder(c util.Compression) *Encoder {
	return &Encoder{compression: c}
}

// Encode encodes r without value compression.
func Encode(r types.Record) ([]byte, error) {
	return (&Encoder{}).Encode(r)
}

// Encode serializes r into a single frame.
func (e *Encoder) Encode(r types.Record) ([]byte, error) {
	if uint64(len(r.Key)) > math.MaxUint32 || uint64(len(r.Value)) > math.MaxUint32 {
		return nil, fmt.Errorf("record too large: key=%d value=%d", len(r.Key), len(r.Value))
	}

	switch r.Kind {
	case types.RecordSet:
		value := []byte(r.Value)
		flags := util.CompressionNone
		if e.compression != util.CompressionNone && len(value) >= minCompressSize {
			compressed, err := util.Compress(value, e.compression)
			if err != nil {
				return nil, fmt.Errorf("compress value: %w", err)
			}
			if len(compressed) < len(value) {
				value = compressed
				flags = e.compression
			}
		}

		buf := make([]byte, MaxHeaderSize+len(r.Key)+len(value))
		buf[crcSize] = byte(types.RecordSet)
		buf[crcSize+1] = byte(flags)
		binary.BigEndian.PutUint32(buf[crcSize+2:], uint32(len(r.Key)))
		binary.BigEndian.PutUint32(buf[PrefixSize:], uint32(len(value)))
		n := copy(buf[MaxHeaderSize:], r.Key)
		copy(buf[MaxHeaderSize+n:], value)
		binary.BigEndian.PutUint32(buf[:crcSize], crc32.ChecksumIEEE(buf[crcSize:]))
		return buf, nil

	case types.RecordRemove:
		buf := make([]byte, PrefixSize+len(r.Key))
		buf[crcSize] = byte(types.RecordRemove)
		binary.BigEndian.PutUint32(buf[crcSize+2:], uint32(len(r.Key)))
		copy(buf[PrefixSize:], r.Key)
		binary.BigEndian.PutUint32(buf[:crcSize], crc32.ChecksumIEEE(buf[crcSize:]))
		return buf, nil

	default:
		return nil, fmt.Errorf("cannot encode record of %s", r.Kind)
	}
}

// HeaderSize returns how many header bytes a frame of the given kind carries.
func HeaderSize(kind types.RecordKind) (int, error) {
	switch kind {
	case types.RecordSet:
		return MaxHeaderSize, nil
	case types.RecordRemove:
		return PrefixSize, nil
	default:
		return 0, corrupt("unknown record kind %d", uint8(kind))
	}
}

// FrameSize returns the total length of the frame starting with header.
// header must hold at least HeaderSize(kind) bytes.
func FrameSize(header []byte) (int64, error) {
	if len(header) < PrefixSize {
		return 0, corrupt("short header: %d bytes", len(header))
	}
	kind := types.RecordKind(header[crcSize])
	hs, err := HeaderSize(kind)
	if err != nil {
		return 0, err
	}
	if len(header) < hs {
		return 0, corrupt("short %s header: %d bytes", kind, len(header))
	}

	size := int64(hs) + int64(binary.BigEndian.Uint32(header[crcSize+2:]))
	if kind == types.RecordSet {
		size += int64(binary.BigEndian.Uint32(header[PrefixSize:]))
	}
	return size, nil
}

// Decode parses exactly one frame. Trailing bytes are an error.
func Decode(data []byte) (types.Record, error) {
	size, err := FrameSize(data)
	if err != nil {
		return types.Record{}, err
	}
	if int64(len(data)) < size {
		return types.Record{}, corrupt("frame declares %d bytes, only %d available", size, len(data))
	}
	if int64(len(data)) > size {
		return types.Record{}, corrupt("%d trailing bytes after frame", int64(len(data))-size)
	}

	want := binary.BigEndian.Uint32(data[:crcSize])
	if got := crc32.ChecksumIEEE(data[crcSize:]); got != want {
		return types.Record{}, corrupt("checksum mismatch: stored %08x, computed %08x", want, got)
	}

	kind := types.RecordKind(data[crcSize])
	flags := util.Compression(data[crcSize+1])
	keyLen := int(binary.BigEndian.Uint32(data[crcSize+2:]))

	if kind == types.RecordRemove {
		if flags != util.CompressionNone {
			return types.Record{}, corrupt("remove record with flags %d", uint8(flags))
		}
		return types.RemoveRecord(string(data[PrefixSize : PrefixSize+keyLen])), nil
	}

	if !flags.Valid() {
		return types.Record{}, corrupt("unknown compression flag %d", uint8(flags))
	}
	key := string(data[MaxHeaderSize : MaxHeaderSize+keyLen])
	value := data[MaxHeaderSize+keyLen:]
	if flags != util.CompressionNone {
		value, err = util.Decompress(value, flags)
		if err != nil {
			return types.Record{}, corrupt("decompress %s value: %v", flags, err)
		}
	}
	return types.SetRecord(key, string(value)), nil
}
