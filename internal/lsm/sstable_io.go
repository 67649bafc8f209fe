package lsm

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
)

// writeEntry writes one entry as KEYLEN(4) | KEY | TS(8) | FLAGS(1) | VALLEN(4) | VAL
// and returns the number of bytes written. VAL is snappy-compressed on
// disk; VALLEN is the compressed length, since snappy's block format
// self-describes the decoded length and needs no separate field.
func writeEntry(w *bufio.Writer, e *MemEntry) (int, error) {
	n := 0
	value := snappy.Encode(nil, e.Value)

	var klen [4]byte
	binary.LittleEndian.PutUint32(klen[:], uint32(len(e.Key)))
	if _, err := w.Write(klen[:]); err != nil {
		return 0, err
	}
	n += 4

	if _, err := w.Write(e.Key); err != nil {
		return 0, err
	}
	n += len(e.Key)

	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(entryTimestamp()))
	if _, err := w.Write(ts[:]); err != nil {
		return 0, err
	}
	n += 8

	flags := byte(0)
	if e.Tombstone {
		flags = 1
	}
	if err := w.WriteByte(flags); err != nil {
		return 0, err
	}
	n += 1

	var vlen [4]byte
	binary.LittleEndian.PutUint32(vlen[:], uint32(len(value)))
	if _, err := w.Write(vlen[:]); err != nil {
		return 0, err
	}
	n += 4

	if _, err := w.Write(value); err != nil {
		return 0, err
	}
	n += len(value)

	return n, nil
}

// readEntry reads one entry and returns it plus its on-disk size.
func readEntry(r *bufio.Reader) (*MemEntry, int, error) {
	n := 0

	var klen [4]byte
	if _, err := io.ReadFull(r, klen[:]); err != nil {
		return nil, 0, err
	}
	n += 4
	keyLen := binary.LittleEndian.Uint32(klen[:])

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, 0, err
	}
	n += int(keyLen)

	var ts [8]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, 0, err
	}
	n += 8

	flags, err := r.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	n += 1

	var vlen [4]byte
	if _, err := io.ReadFull(r, vlen[:]); err != nil {
		return nil, 0, err
	}
	n += 4
	valLen := binary.LittleEndian.Uint32(vlen[:])

	compressed := make([]byte, valLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, 0, err
	}
	n += int(valLen)

	val, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, 0, err
	}

	return &MemEntry{Key: key, Value: val, Tombstone: flags&1 != 0}, n, nil
}

// writeIndex writes the sparse index as COUNT(4) | [KEYLEN(4)|KEY|OFFSET(8)]*.
func writeIndex(w *bufio.Writer, index []IndexEntry) error {
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(index)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}

	for _, e := range index {
		var klen [4]byte
		binary.LittleEndian.PutUint32(klen[:], uint32(len(e.Key)))
		if _, err := w.Write(klen[:]); err != nil {
			return err
		}
		if _, err := w.Write(e.Key); err != nil {
			return err
		}
		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], e.Offset)
		if _, err := w.Write(off[:]); err != nil {
			return err
		}
	}
	return nil
}

// readIndex reads the sparse index from r, which must be positioned at
// its start.
func readIndex(r io.Reader) ([]IndexEntry, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(count[:])

	out := make([]IndexEntry, n)
	for i := uint32(0); i < n; i++ {
		var klen [4]byte
		if _, err := io.ReadFull(r, klen[:]); err != nil {
			return nil, err
		}
		keyLen := binary.LittleEndian.Uint32(klen[:])
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		var off [8]byte
		if _, err := io.ReadFull(r, off[:]); err != nil {
			return nil, err
		}
		out[i] = IndexEntry{Key: key, Offset: binary.LittleEndian.Uint64(off[:])}
	}
	return out, nil
}
