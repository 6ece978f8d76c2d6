// Package lexical implements the lexical recall index (C7): an in-memory
// BM25-style ranked-retrieval index over chunk contents augmented with
// title, author, and source type name, persisted as a gob blob after
// every full rebuild. Algorithm and augmentation order are grounded on
// original_source/app/indexing/bm25_index.py (rank_bm25.BM25Okapi
// defaults k1=1.5, b=0.75; _add_metadata_for_indexing's concatenation
// order).
package lexical

import (
	"bytes"
	"encoding/gob"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const (
	k1 = 1.5
	b  = 0.75
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// tokenize lowercases and splits on runs of non-alphanumeric characters,
// approximating nltk.word_tokenize closely enough for ranked retrieval.
func tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// Record is one chunk's searchable content plus the document metadata
// folded into its indexed text, mirroring store.ChunkRecord's shape so
// callers can pass store results directly without an import cycle.
type Record struct {
	ChunkID        int64
	Content        string
	Title          string
	Author         string
	SourceTypeName string
}

// augmentedText reproduces _add_metadata_for_indexing's concatenation:
// content, then title/author/source-type-name, each appended only if
// non-empty.
func augmentedText(r Record) string {
	var b strings.Builder
	b.WriteString(r.Content)
	for _, field := range []string{r.Title, r.Author, r.SourceTypeName} {
		if field != "" {
			b.WriteByte(' ')
			b.WriteString(field)
		}
	}
	return b.String()
}

// scoredTerms is the persisted per-document sparse term-frequency map.
type scoredTerms map[string]int

// Index is a BM25-style in-memory index, gob-persistable as one blob.
type Index struct {
	mu sync.RWMutex

	idMap    []int64       // chunk id per internal doc index
	termFreq []scoredTerms // term frequency per internal doc index
	docLen   []int
	docFreq  map[string]int // number of docs containing each term
	n        int
	avgDL    float64
}

// persisted is the gob-encoded shape of Index (mu is not exported/gobbed).
type persisted struct {
	IDMap    []int64
	TermFreq []scoredTerms
	DocLen   []int
	DocFreq  map[string]int
	N        int
	AvgDL    float64
}

// New creates an empty index.
func New() *Index {
	return &Index{docFreq: make(map[string]int)}
}

// Rebuild replaces the index contents in full from the given records,
// matching Bm25Index.update's full-rebuild-on-every-mutation policy.
func (idx *Index) Rebuild(records []Record) {
	idMap := make([]int64, 0, len(records))
	termFreq := make([]scoredTerms, 0, len(records))
	docLen := make([]int, 0, len(records))
	docFreq := make(map[string]int)

	totalLen := 0
	for _, r := range records {
		tokens := tokenize(augmentedText(r))
		freq := make(scoredTerms, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		for tok := range freq {
			docFreq[tok]++
		}

		idMap = append(idMap, r.ChunkID)
		termFreq = append(termFreq, freq)
		docLen = append(docLen, len(tokens))
		totalLen += len(tokens)
	}

	avgDL := 0.0
	if len(records) > 0 {
		avgDL = float64(totalLen) / float64(len(records))
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.idMap = idMap
	idx.termFreq = termFreq
	idx.docLen = docLen
	idx.docFreq = docFreq
	idx.n = len(records)
	idx.avgDL = avgDL
}

// Hit is one scored lexical recall candidate.
type Hit struct {
	ChunkID int64
	Score   float64
}

// Search tokenizes query and scores every indexed document with the
// BM25 formula (k1=1.5, b=0.75) with the non-negative idf
// log(1 + (N-n+0.5)/(n+0.5)), returning the top_k by descending score.
func (idx *Index) Search(query string, topK int) []Hit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.n == 0 {
		return nil
	}

	terms := tokenize(query)
	if len(terms) == 0 || topK <= 0 {
		return nil
	}

	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		if _, ok := idf[t]; ok {
			continue
		}
		nq := float64(idx.docFreq[t])
		idf[t] = math.Log((float64(idx.n)-nq+0.5)/(nq+0.5) + 1)
	}

	hits := make([]Hit, idx.n)
	for i := 0; i < idx.n; i++ {
		score := 0.0
		dl := float64(idx.docLen[i])
		for _, t := range terms {
			f := float64(idx.termFreq[i][t])
			if f == 0 {
				continue
			}
			denom := f + k1*(1-b+b*dl/idx.avgDL)
			score += idf[t] * (f * (k1 + 1)) / denom
		}
		hits[i] = Hit{ChunkID: idx.idMap[i], Score: score}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Clear empties the index.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.idMap = nil
	idx.termFreq = nil
	idx.docLen = nil
	idx.docFreq = make(map[string]int)
	idx.n = 0
	idx.avgDL = 0
}

// Save gob-encodes the index to path, overwriting any existing file.
func (idx *Index) Save(path string) error {
	idx.mu.RLock()
	p := persisted{
		IDMap: idx.idMap, TermFreq: idx.termFreq, DocLen: idx.docLen,
		DocFreq: idx.docFreq, N: idx.n, AvgDL: idx.avgDL,
	}
	idx.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Load replaces the index contents with the gob blob at path. A missing
// file is treated as an empty index (first run).
func (idx *Index) Load(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var p persisted
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.idMap = p.IDMap
	idx.termFreq = p.TermFreq
	idx.docLen = p.DocLen
	idx.docFreq = p.DocFreq
	if idx.docFreq == nil {
		idx.docFreq = make(map[string]int)
	}
	idx.n = p.N
	idx.avgDL = p.AvgDL
	return nil
}

// Size returns the number of indexed chunks.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.n
}
