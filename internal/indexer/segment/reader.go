package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/search"
)

// DeletesExtension is appended to a segment path for its deletion bitmap.
const DeletesExtension = ".del"

// Reader serves queries from one immutable segment. Deletions are the only
// mutable state; they live in a roaring bitmap that is replaced on write so
// queries never lock.
type Reader struct {
	file     *os.File
	filePath string
	header   SegmentHeader
	dict     []DictEntry
	docs     []search.DocID
	docNums  map[search.DocID]int
	postBase int64
	deleted  atomic.Pointer[roaring.Bitmap]
	delMu    sync.Mutex
	logger   *slog.Logger
}

func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening segment file: %w", err)
	}
	r, err := load(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func load(f *os.File, path string) (*Reader, error) {
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header := unmarshalHeader(headerBytes)
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("invalid segment file: bad magic bytes %x", header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}

	dictBlock := make([]byte, header.DictSize)
	if _, err := f.ReadAt(dictBlock, header.DictOffset); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, header.DictOffset+header.DictSize); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	if want, got := binary.LittleEndian.Uint32(footer[0:4]), crc32.ChecksumIEEE(dictBlock); want != got {
		return nil, fmt.Errorf("dictionary checksum mismatch: want %08x, got %08x", want, got)
	}
	dictData, err := decompressBlock(dictBlock, header.Compression)
	if err != nil {
		return nil, err
	}
	var dict []DictEntry
	if err := json.Unmarshal(dictData, &dict); err != nil {
		return nil, fmt.Errorf("parsing dictionary: %w", err)
	}

	docsBlock := make([]byte, header.DocsSize)
	if _, err := f.ReadAt(docsBlock, header.DocsOffset); err != nil {
		return nil, fmt.Errorf("reading document table: %w", err)
	}
	docsData, err := decompressBlock(docsBlock, header.Compression)
	if err != nil {
		return nil, err
	}
	var docs []search.DocID
	if err := json.Unmarshal(docsData, &docs); err != nil {
		return nil, fmt.Errorf("parsing document table: %w", err)
	}
	if len(docs) != int(header.DocCount) {
		return nil, fmt.Errorf("document table has %d entries, header says %d", len(docs), header.DocCount)
	}
	docNums := make(map[search.DocID]int, len(docs))
	for i, id := range docs {
		docNums[id] = i
	}

	r := &Reader{
		file:     f,
		filePath: path,
		header:   header,
		dict:     dict,
		docs:     docs,
		docNums:  docNums,
		postBase: header.PostOffset,
		logger:   slog.Default().With("component", "segment", "segment", filepath.Base(path)),
	}
	deleted, err := loadDeletes(path + DeletesExtension)
	if err != nil {
		return nil, err
	}
	r.deleted.Store(deleted)
	return r, nil
}

func loadDeletes(path string) (*roaring.Bitmap, error) {
	bm := roaring.New()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return bm, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading deletes: %w", err)
	}
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing deletes: %w", err)
	}
	return bm, nil
}

func (r *Reader) isDeleted(docNum int) bool {
	return r.deleted.Load().Contains(uint32(docNum))
}

func (r *Reader) find(key search.TermKey) int {
	return sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].key().Compare(key) >= 0
	})
}

func (r *Reader) postings(entry DictEntry) search.MatchIterator {
	data := make([]byte, entry.PostLen)
	if _, err := r.file.ReadAt(data, r.postBase+entry.PostOffset); err != nil {
		r.logger.Error("reading postings", "field", entry.Field, "term", entry.Term, "error", err)
		return search.EmptyIterator{}
	}
	matches, err := decodePostings(data)
	if err != nil {
		r.logger.Error("decoding postings", "field", entry.Field, "term", entry.Term, "error", err)
		return search.EmptyIterator{}
	}
	return search.NewSliceIterator(matches, r.isDeleted)
}

// Matches returns the live postings of field:term.
func (r *Reader) Matches(field, term string) search.MatchIterator {
	key := search.TermKey{Field: field, Term: term}
	idx := r.find(key)
	if idx >= len(r.dict) || r.dict[idx].key() != key {
		return search.EmptyIterator{}
	}
	return r.postings(r.dict[idx])
}

// RangeMatches returns the terms of field in [from, to), capped at
// search.MaxRangeTerms. An empty to is unbounded.
func (r *Reader) RangeMatches(field, from, to string) []search.TermMatches {
	var out []search.TermMatches
	for i := r.find(search.TermKey{Field: field, Term: from}); i < len(r.dict); i++ {
		entry := r.dict[i]
		if entry.Field != field || (to != "" && entry.Term >= to) || len(out) >= search.MaxRangeTerms {
			break
		}
		out = append(out, search.TermMatches{Term: entry.Term, Matches: r.postings(entry)})
	}
	return out
}

// AllDocs yields live document numbers in ascending order.
func (r *Reader) AllDocs() iter.Seq[int] {
	return func(yield func(int) bool) {
		deleted := r.deleted.Load()
		for docNum := range r.docs {
			if deleted.Contains(uint32(docNum)) {
				continue
			}
			if !yield(docNum) {
				return
			}
		}
	}
}

// HasChanges reports whether the segment holds a live version of id.
func (r *Reader) HasChanges(id search.DocID) bool {
	docNum, ok := r.docNums[id]
	return ok && !r.isDeleted(docNum)
}

// Decode maps document numbers to DocIDs, dropping deleted ones.
func (r *Reader) Decode(raw []search.RawMatch, boostedNorm float64) []search.ScoredMatch {
	out := make([]search.ScoredMatch, 0, len(raw))
	for _, m := range raw {
		if m.Slot < 0 || m.Slot >= len(r.docs) || r.isDeleted(m.Slot) {
			continue
		}
		out = append(out, search.ScoredMatch{DocID: r.docs[m.Slot], Score: m.Score / boostedNorm})
	}
	return out
}

// Delete marks id deleted in memory and reports whether anything changed.
// Call SaveDeletes to persist.
func (r *Reader) Delete(id search.DocID) bool {
	docNum, ok := r.docNums[id]
	if !ok {
		return false
	}
	r.delMu.Lock()
	defer r.delMu.Unlock()
	cur := r.deleted.Load()
	if cur.Contains(uint32(docNum)) {
		return false
	}
	next := cur.Clone()
	next.Add(uint32(docNum))
	r.deleted.Store(next)
	return true
}

// SaveDeletes writes the deletion bitmap next to the segment file.
func (r *Reader) SaveDeletes() error {
	r.delMu.Lock()
	defer r.delMu.Unlock()
	var buf bytes.Buffer
	if _, err := r.deleted.Load().WriteTo(&buf); err != nil {
		return fmt.Errorf("encoding deletes: %w", err)
	}
	path := r.filePath + DeletesExtension
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing deletes: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming deletes: %w", err)
	}
	return nil
}

// Dict returns the term dictionary in (field, term) order.
func (r *Reader) Dict() []DictEntry {
	return r.dict
}

func (r *Reader) Header() SegmentHeader {
	return r.header
}

func (r *Reader) Name() string {
	return filepath.Base(r.filePath)
}

func (r *Reader) Terms() int {
	return len(r.dict)
}

func (r *Reader) DocCount() uint32 {
	return r.header.DocCount
}

// Deleted returns the number of deleted documents.
func (r *Reader) Deleted() int {
	return int(r.deleted.Load().GetCardinality())
}

// LiveDocs returns the number of non-deleted documents.
func (r *Reader) LiveDocs() int {
	return len(r.docs) - r.Deleted()
}

func (r *Reader) Close() error {
	return r.file.Close()
}
