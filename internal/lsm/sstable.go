package lsm

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"os"
	"sort"
)

// SSTable on-disk layout:
//
//	Header: MAGIC(4)="SSTB" | VERSION(4) | ENTRY_COUNT(8) | BLOOM_OFFSET(8) | INDEX_OFFSET(8) | FOOTER_OFFSET(8)
//	Entries: [ KEYLEN(4) | KEY | TS(8) | FLAGS(1:TOMBSTONE) | VALLEN(4) | VAL ]+
//	  VAL is snappy-compressed; VALLEN is its compressed length.
//	SparseIndex: COUNT(4) | [ KEYLEN(4) | KEY | FILE_OFFSET(8) ] every N entries
//	BloomFilter: [ NUM_BITS(8) | NUM_HASHES(4) | BITS ]
//	Footer: ENTRY_COUNT(8) | BLOOM_OFFSET(8) | INDEX_OFFSET(8) | FOOTER_OFFSET(8) | CRC32(8)
//
// The sparse index prefixes each key with its length so a reader can
// decode it without assuming a fixed key size, matching every other
// section in the format.
const (
	sstableVersion = 1
	indexInterval  = 128
	headerSize     = 4 + 4 + 8 + 8 + 8 + 8 // 40
	footerSize     = 8 + 8 + 8 + 8 + 8     // 40
)

var sstableMagic = [4]byte{'S', 'S', 'T', 'B'}

type sstableHeader struct {
	Magic       [4]byte
	Version     uint32
	EntryCount  uint64
	BloomOffset uint64
	IndexOffset uint64
	FooterOffset uint64
}

// IndexEntry is one sparse-index pointer.
type IndexEntry struct {
	Key    []byte
	Offset uint64
}

// SSTable is an immutable, sorted on-disk run with a bloom filter and a
// sparse index.
type SSTable struct {
	path  string
	file  *os.File
	hdr   sstableHeader
	index []IndexEntry
	bloom *BloomFilter
}

// Path returns the backing file path.
func (s *SSTable) Path() string { return s.path }

// EntryCount returns the number of entries written to this SSTable.
func (s *SSTable) EntryCount() int { return int(s.hdr.EntryCount) }

// CreateSSTable writes entries (already key-sorted, as produced by
// MemTable.Snapshot) to a new immutable file at path.
func CreateSSTable(path string, entries []*MemEntry) (*SSTable, error) {
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Key) < string(entries[j].Key)
	})

	bloom := NewBloomFilter(maxInt(len(entries), 1), 0.01)
	for _, e := range entries {
		bloom.Add(e.Key)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)

	hdr := sstableHeader{Magic: sstableMagic, Version: sstableVersion, EntryCount: uint64(len(entries))}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		f.Close()
		return nil, err
	}

	offset := uint64(headerSize)
	index := make([]IndexEntry, 0)
	for i, e := range entries {
		if i%indexInterval == 0 {
			index = append(index, IndexEntry{Key: e.Key, Offset: offset})
		}
		n, err := writeEntry(w, e)
		if err != nil {
			f.Close()
			return nil, err
		}
		offset += uint64(n)
	}

	hdr.IndexOffset = offset
	if err := writeIndex(w, index); err != nil {
		f.Close()
		return nil, err
	}
	offset = indexEndOffset(hdr.IndexOffset, index)

	hdr.BloomOffset = offset
	bloomData := bloom.MarshalBinary()
	if _, err := w.Write(bloomData); err != nil {
		f.Close()
		return nil, err
	}
	offset += uint64(len(bloomData))

	hdr.FooterOffset = offset
	if err := writeFooter(w, hdr); err != nil {
		f.Close()
		return nil, err
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}

	// Patch the header now that the offsets are known.
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, err
	}

	return &SSTable{path: path, file: f, hdr: hdr, index: index, bloom: bloom}, nil
}

// OpenSSTable opens an existing SSTable file, validating its magic and
// loading the footer, sparse index and bloom filter.
func OpenSSTable(path string) (*SSTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var hdr sstableHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		f.Close()
		return nil, err
	}
	if hdr.Magic != sstableMagic {
		f.Close()
		return nil, errBadMagic
	}
	if hdr.Version != sstableVersion {
		f.Close()
		return nil, errUnsupportedVer
	}

	if err := verifyFooter(f, hdr); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(int64(hdr.IndexOffset), 0); err != nil {
		f.Close()
		return nil, err
	}
	index, err := readIndex(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(int64(hdr.BloomOffset), 0); err != nil {
		f.Close()
		return nil, err
	}
	bloomLen := int64(hdr.FooterOffset) - int64(hdr.BloomOffset)
	bloomData := make([]byte, bloomLen)
	if _, err := f.Read(bloomData); err != nil {
		f.Close()
		return nil, err
	}
	bloom, err := UnmarshalBloomFilter(bloomData)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &SSTable{path: path, file: f, hdr: hdr, index: index, bloom: bloom}, nil
}

// Close releases the underlying file handle.
func (s *SSTable) Close() error { return s.file.Close() }

// MightContain consults the bloom filter only.
func (s *SSTable) MightContain(key []byte) bool { return s.bloom.MightContain(key) }

// Get binary-searches the sparse index then scans forward, returning
// (value, tombstone, found). An explicit TOMBSTONE is distinguished
// from absent.
func (s *SSTable) Get(key []byte) (value []byte, tombstone bool, found bool, err error) {
	if !s.bloom.MightContain(key) {
		return nil, false, false, nil
	}

	startOffset := uint64(headerSize)
	lo, hi := 0, len(s.index)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if string(s.index[mid].Key) <= string(key) {
			startOffset = s.index[mid].Offset
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if _, err := s.file.Seek(int64(startOffset), 0); err != nil {
		return nil, false, false, err
	}
	r := bufio.NewReader(s.file)

	for offset := startOffset; offset < s.hdr.IndexOffset; {
		e, n, err := readEntry(r)
		if err != nil {
			return nil, false, false, err
		}
		offset += uint64(n)
		cmp := compareBytes(e.Key, key)
		if cmp == 0 {
			return e.Value, e.Tombstone, true, nil
		}
		if cmp > 0 {
			break
		}
	}
	return nil, false, false, nil
}

// AllEntries reads every entry in the data section, in key order, used
// by compaction and by the SSTable round-trip test.
func (s *SSTable) AllEntries() ([]*MemEntry, error) {
	if _, err := s.file.Seek(int64(headerSize), 0); err != nil {
		return nil, err
	}
	r := bufio.NewReader(s.file)
	out := make([]*MemEntry, 0, s.hdr.EntryCount)
	for offset := uint64(headerSize); offset < s.hdr.IndexOffset; {
		e, n, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		offset += uint64(n)
		out = append(out, e)
	}
	return out, nil
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func writeFooter(w *bufio.Writer, hdr sstableHeader) error {
	buf := make([]byte, footerSize-8)
	binary.LittleEndian.PutUint64(buf[0:8], hdr.EntryCount)
	binary.LittleEndian.PutUint64(buf[8:16], hdr.BloomOffset)
	binary.LittleEndian.PutUint64(buf[16:24], hdr.IndexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], hdr.FooterOffset)

	crcInput := make([]byte, 0, headerSize+len(buf))
	hdrBuf := make([]byte, headerSize)
	copy(hdrBuf[0:4], hdr.Magic[:])
	binary.LittleEndian.PutUint32(hdrBuf[4:8], hdr.Version)
	binary.LittleEndian.PutUint64(hdrBuf[8:16], hdr.EntryCount)
	binary.LittleEndian.PutUint64(hdrBuf[16:24], hdr.BloomOffset)
	binary.LittleEndian.PutUint64(hdrBuf[24:32], hdr.IndexOffset)
	binary.LittleEndian.PutUint64(hdrBuf[32:40], hdr.FooterOffset)
	crcInput = append(crcInput, hdrBuf...)
	crcInput = append(crcInput, buf...)
	crc := crc32.ChecksumIEEE(crcInput)

	if _, err := w.Write(buf); err != nil {
		return err
	}
	var crc64 [8]byte
	binary.LittleEndian.PutUint64(crc64[:], uint64(crc))
	_, err := w.Write(crc64[:])
	return err
}

func verifyFooter(f *os.File, hdr sstableHeader) error {
	if _, err := f.Seek(int64(hdr.FooterOffset), 0); err != nil {
		return err
	}
	footer := make([]byte, footerSize)
	if _, err := f.Read(footer); err != nil {
		return err
	}

	hdrBuf := make([]byte, headerSize)
	copy(hdrBuf[0:4], hdr.Magic[:])
	binary.LittleEndian.PutUint32(hdrBuf[4:8], hdr.Version)
	binary.LittleEndian.PutUint64(hdrBuf[8:16], hdr.EntryCount)
	binary.LittleEndian.PutUint64(hdrBuf[16:24], hdr.BloomOffset)
	binary.LittleEndian.PutUint64(hdrBuf[24:32], hdr.IndexOffset)
	binary.LittleEndian.PutUint64(hdrBuf[32:40], hdr.FooterOffset)

	crcInput := append(append([]byte{}, hdrBuf...), footer[:32]...)
	want := crc32.ChecksumIEEE(crcInput)
	got := binary.LittleEndian.Uint64(footer[32:40])
	if uint64(want) != got {
		return errBadCRC
	}
	return nil
}

func indexEndOffset(start uint64, index []IndexEntry) uint64 {
	offset := start + 4 // count
	for _, e := range index {
		offset += 4 + uint64(len(e.Key)) + 8
	}
	return offset
}
