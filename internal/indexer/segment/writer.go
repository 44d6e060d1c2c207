package segment

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// MagicBytes identifies a valid .spdx segment file.
const (
	MagicBytes    uint32 = 0x53504458
	FormatVersion uint32 = 2
	HeaderSize    int    = 64
	FooterSize    int    = 32
	Extension            = ".spdx"
)

// SegmentHeader is the 64-byte header written at the start of every segment.
type SegmentHeader struct {
	Magic       uint32
	Version     uint32
	TermCount   uint32
	DocCount    uint32
	DictOffset  int64
	DictSize    int64
	PostOffset  int64
	PostSize    int64
	DocsOffset  int64
	DocsSize    uint32
	Compression Compression
}

func (h SegmentHeader) marshal() []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint32(b[56:60], h.DocsSize)
	binary.LittleEndian.PutUint32(b[60:64], uint32(h.Compression))
	return b
}

func unmarshalHeader(b []byte) SegmentHeader {
	return SegmentHeader{
		Magic:       binary.LittleEndian.Uint32(b[0:4]),
		Version:     binary.LittleEndian.Uint32(b[4:8]),
		TermCount:   binary.LittleEndian.Uint32(b[8:12]),
		DocCount:    binary.LittleEndian.Uint32(b[12:16]),
		DictOffset:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictSize:    int64(binary.LittleEndian.Uint64(b[24:32])),
		PostOffset:  int64(binary.LittleEndian.Uint64(b[32:40])),
		PostSize:    int64(binary.LittleEndian.Uint64(b[40:48])),
		DocsOffset:  int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsSize:    binary.LittleEndian.Uint32(b[56:60]),
		Compression: Compression(binary.LittleEndian.Uint32(b[60:64])),
	}
}

// DictEntry maps a field term to its postings offset, length, and document
// frequency in the segment file.
type DictEntry struct {
	Field      string `json:"f"`
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    int    `json:"d"`
}

func (e DictEntry) key() search.TermKey {
	return search.TermKey{Field: e.Field, Term: e.Term}
}

// Writer serialises documents into new .spdx segment files.
type Writer struct {
	dataDir     string
	parser      search.Parser
	compression Compression
}

// NewWriter creates a Writer that writes segments into the given directory.
func NewWriter(dataDir string, parser search.Parser, compression Compression) *Writer {
	return &Writer{dataDir: dataDir, parser: parser, compression: compression}
}

type segmentPosting struct {
	docNum      int
	contextSize int
	positions   []int
}

// Write atomically creates a new segment file holding docs. Document numbers
// follow ascending DocID order. It writes to a .tmp file first and renames
// on success.
func (w *Writer) Write(docs map[search.DocID]search.Document) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("cannot write empty segment")
	}
	ids := make([]search.DocID, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	postings := make(map[search.TermKey][]segmentPosting)
	for docNum, id := range ids {
		for field, text := range docs[id].Fields {
			tokens := w.parser.ParseField(field, text)
			positions := make(map[string][]int)
			for _, tok := range tokens {
				positions[tok.Term] = append(positions[tok.Term], tok.Position)
			}
			for term, pos := range positions {
				slices.Sort(pos)
				key := search.TermKey{Field: field, Term: term}
				postings[key] = append(postings[key], segmentPosting{docNum: docNum, contextSize: len(tokens), positions: pos})
			}
		}
	}
	keys := make([]search.TermKey, 0, len(postings))
	for k := range postings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	segmentName := fmt.Sprintf("seg_%020d%s", time.Now().UnixNano(), Extension)
	finalPath := filepath.Join(w.dataDir, segmentName)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()
	header := SegmentHeader{
		Magic:       MagicBytes,
		Version:     FormatVersion,
		TermCount:   uint32(len(keys)),
		DocCount:    uint32(len(ids)),
		Compression: w.compression,
	}
	if _, err := f.Write(header.marshal()); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}

	offset := int64(HeaderSize)
	header.PostOffset = offset
	dict := make([]DictEntry, 0, len(keys))
	for _, key := range keys {
		data, err := encodePostings(postings[key])
		if err != nil {
			return "", fmt.Errorf("encoding postings for %s:%s: %w", key.Field, key.Term, err)
		}
		if _, err := f.Write(data); err != nil {
			return "", fmt.Errorf("writing postings for %s:%s: %w", key.Field, key.Term, err)
		}
		dict = append(dict, DictEntry{
			Field:      key.Field,
			Term:       key.Term,
			PostOffset: offset - header.PostOffset,
			PostLen:    len(data),
			DocFreq:    len(postings[key]),
		})
		offset += int64(len(data))
	}
	header.PostSize = offset - header.PostOffset

	docsData, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshaling document table: %w", err)
	}
	docsBlock := compressBlock(docsData, w.compression)
	if _, err := f.Write(docsBlock); err != nil {
		return "", fmt.Errorf("writing document table: %w", err)
	}
	header.DocsOffset = offset
	header.DocsSize = uint32(len(docsBlock))
	offset += int64(len(docsBlock))

	dictData, err := json.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("marshaling dictionary: %w", err)
	}
	dictBlock := compressBlock(dictData, w.compression)
	if _, err := f.Write(dictBlock); err != nil {
		return "", fmt.Errorf("writing dictionary: %w", err)
	}
	header.DictOffset = offset
	header.DictSize = int64(len(dictBlock))

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(dictBlock))
	binary.LittleEndian.PutUint32(footer[4:8], header.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(header.DictOffset))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(header.DictSize))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(header.PostSize))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if _, err := f.WriteAt(header.marshal(), 0); err != nil {
		return "", fmt.Errorf("updating header: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing segment file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return segmentName, nil
}

// encodePostings flattens postings to docDelta, contextSize, freq and
// position deltas per entry, then run-length encodes them.
func encodePostings(postings []segmentPosting) ([]byte, error) {
	var ints []int
	prevDoc := 0
	for _, p := range postings {
		ints = append(ints, p.docNum-prevDoc, p.contextSize, len(p.positions))
		prevDoc = p.docNum
		prevPos := 0
		for _, pos := range p.positions {
			ints = append(ints, pos-prevPos)
			prevPos = pos
		}
	}
	return codec.EncodeRuns(ints)
}

func decodePostings(data []byte) ([]search.TermMatch, error) {
	ints, err := codec.DecodeRuns(data)
	if err != nil {
		return nil, err
	}
	var out []search.TermMatch
	doc := 0
	for i := 0; i < len(ints); {
		if i+3 > len(ints) {
			return nil, fmt.Errorf("truncated posting entry at %d", i)
		}
		doc += ints[i]
		contextSize, freq := ints[i+1], ints[i+2]
		i += 3
		if freq < 0 || i+freq > len(ints) {
			return nil, fmt.Errorf("truncated positions at %d", i)
		}
		positions := make([]int, freq)
		pos := 0
		for k := range freq {
			pos += ints[i+k]
			positions[k] = pos
		}
		i += freq
		out = append(out, search.TermMatch{
			Slot:      doc,
			Freq:      freq,
			Positions: positions,
			Norm:      search.NormFor(contextSize),
		})
	}
	return out, nil
}
