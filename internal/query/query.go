// Package query's pipeline implements the 8-stage search (§4.9), grounded
// on the original implementation's search_documents/Candidate.to_search_result
// (original_source/app/search_logic.py): concurrent dense+lexical recall,
// union+fetch, cheap rerank, strong rerank, extractive answer with
// sentence-snapping, answer-focused rerank, and parent/child assembly with
// scroll-to-text URL fragments.
package query

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/corpussearch/internal/lexical"
	"github.com/kadirpekel/corpussearch/internal/mlclients"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/store"
	"github.com/kadirpekel/corpussearch/internal/telemetry"
	"github.com/kadirpekel/corpussearch/internal/vectorindex"
)

// DefaultKd and DefaultKl are the CPU recall widths (config.SearchConfig
// supplies the GPU-aware values in production; these back zero-value Pipelines).
const (
	DefaultKd = 20
	DefaultKl = 20
)

// TextPart is one bolded-or-plain fragment of a SearchResult's content.
type TextPart struct {
	Text string
	Bold bool
}

// SearchResult is one assembled, ranked answer to a query.
type SearchResult struct {
	Score          float64
	Content        []TextPart
	Author         string
	AuthorImageURL string
	Title          string
	URL            string
	Location       string
	DataSource     string
	Time           time.Time
	Kind           model.DocumentKind
	FileKind       *model.FileKind
	Status         *string
	Child          *SearchResult
}

// Pipeline wires together the recall, rerank and assembly stages.
type Pipeline struct {
	Store    *store.Store
	Lexical  *lexical.Index
	Vector   vectorindex.Backend
	Embedder mlclients.Embedder
	Cheap    mlclients.CrossEncoder
	Strong   mlclients.CrossEncoder
	QA       mlclients.QAModel
	Metrics  *telemetry.Metrics

	// Kd, Kl are the dense and lexical recall widths (config.SearchConfig.RecallWidths).
	Kd, Kl int
}

func (p *Pipeline) widths() (kd, kl int) {
	kd, kl = p.Kd, p.Kl
	if kd <= 0 {
		kd = DefaultKd
	}
	if kl <= 0 {
		kl = DefaultKl
	}
	return
}

// candidate is one recalled chunk carried through reranking and assembly.
type candidate struct {
	rec         store.ChunkRecord
	doc         *model.Document
	score       float32
	answerText  string
	answerStart int
	answerEnd   int
	parent      *candidate
}

// Search runs the full pipeline and returns up to topK ranked results.
func (p *Pipeline) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	start := time.Now()
	defer func() {
		if p.Metrics != nil {
			p.Metrics.SearchRequests.Inc()
			p.Metrics.SearchLatencySecs.Observe(time.Since(start).Seconds())
		}
	}()

	kd, kl := p.widths()

	chunkIDs, err := p.recall(ctx, query, kd, kl)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	records, err := p.Store.FetchChunksWithDocuments(ctx, chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	candidates, err := p.loadCandidates(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("load candidate documents: %w", err)
	}

	candidates, err = p.rerank(ctx, p.Cheap, query, candidates, kd, false, true)
	if err != nil {
		return nil, fmt.Errorf("cheap rerank: %w", err)
	}
	candidates, err = p.rerank(ctx, p.Strong, query, candidates, topK, false, true)
	if err != nil {
		return nil, fmt.Errorf("strong rerank: %w", err)
	}

	if err := p.assignAnswers(ctx, query, candidates); err != nil {
		return nil, fmt.Errorf("extractive answer: %w", err)
	}

	candidates, err = p.rerank(ctx, p.Strong, query, candidates, topK, true, true)
	if err != nil {
		return nil, fmt.Errorf("answer-focused rerank: %w", err)
	}

	results, err := p.assemble(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	return results, nil
}

// recall runs dense and lexical recall concurrently and returns the
// deduplicated union of recalled chunk ids.
func (p *Pipeline) recall(ctx context.Context, query string, kd, kl int) ([]int64, error) {
	results, err := ParallelSearch(ctx,
		func(ctx context.Context) ([]int64, error) {
			vecs, err := p.Embedder.Encode(ctx, []string{query})
			if err != nil {
				return nil, fmt.Errorf("encode query: %w", err)
			}
			if len(vecs) == 0 {
				return nil, nil
			}
			hits, err := p.Vector.Search(ctx, vecs[0], kd)
			if err != nil {
				return nil, fmt.Errorf("vector search: %w", err)
			}
			ids := make([]int64, len(hits))
			for i, h := range hits {
				ids[i] = h.ChunkID
			}
			return ids, nil
		},
		func(_ context.Context) ([]int64, error) {
			hits := p.Lexical.Search(query, kl)
			ids := make([]int64, len(hits))
			for i, h := range hits {
				ids[i] = h.ChunkID
			}
			return ids, nil
		},
	)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var union []int64
	for _, set := range results {
		for _, id := range set {
			if !seen[id] {
				seen[id] = true
				union = append(union, id)
			}
		}
	}
	return union, nil
}

// loadCandidates resolves each recalled chunk's full owning Document
// (needed for URL/location/timestamp/kind/etc, which ChunkRecord omits),
// caching by document id since sibling chunks share a document.
func (p *Pipeline) loadCandidates(ctx context.Context, records []store.ChunkRecord) ([]*candidate, error) {
	docs := make(map[int64]*model.Document)
	candidates := make([]*candidate, 0, len(records))
	for _, rec := range records {
		doc, ok := docs[rec.DocumentID]
		if !ok {
			var err error
			doc, err = p.Store.LoadDocument(ctx, rec.DocumentID)
			if err != nil {
				return nil, fmt.Errorf("load document %d: %w", rec.DocumentID, err)
			}
			docs[rec.DocumentID] = doc
		}
		candidates = append(candidates, &candidate{rec: rec, doc: doc})
	}
	return candidates, nil
}

// rerank scores each candidate with a cross-encoder and keeps the topN
// highest-scoring ones. useAnswer scores the extracted answer span instead
// of the whole chunk; useTitle appends " [SEP] "+title to the scored text,
// matching _cross_encode(use_answer=, use_titles=).
func (p *Pipeline) rerank(ctx context.Context, ce mlclients.CrossEncoder, query string, candidates []*candidate, topN int, useAnswer, useTitle bool) ([]*candidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	pairs := make([][2]string, len(candidates))
	for i, c := range candidates {
		text := c.rec.Chunk.Content
		if useAnswer {
			text = c.answerText
		}
		if useTitle && c.rec.Title != "" {
			text = text + " [SEP] " + c.rec.Title
		}
		pairs[i] = [2]string{query, text}
	}

	scores, err := ce.Score(ctx, pairs)
	if err != nil {
		return nil, err
	}
	for i, c := range candidates {
		if i < len(scores) {
			c.score = scores[i]
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

// assignAnswers calls the QA model for every candidate and snaps the
// returned answer text onto its enclosing sentence boundary within the
// chunk, ground truth _assign_answer_sentence.
var sentenceSplitRe = regexp.MustCompile(`([.!?:\-] |["()])`)

func (p *Pipeline) assignAnswers(ctx context.Context, query string, candidates []*candidate) error {
	if len(candidates) == 0 {
		return nil
	}

	questions := make([]string, len(candidates))
	contexts := make([]string, len(candidates))
	for i, c := range candidates {
		questions[i] = query
		contexts[i] = c.rec.Chunk.Content
	}

	spans, err := p.QA.Answer(ctx, questions, contexts)
	if err != nil {
		return err
	}
	for i, c := range candidates {
		if i >= len(spans) {
			continue
		}
		text, start, end := assignAnswerSentence(c.rec.Chunk.Content, spans[i].Text)
		c.answerText, c.answerStart, c.answerEnd = text, start, end
	}
	return nil
}

// assignAnswerSentence re-locates answer within content's enclosing
// sentence (split on ".!?:-" followed by a space, or a quote/paren). If
// answer isn't contained in any split segment, answer itself is used
// verbatim as the span.
func assignAnswerSentence(content, answer string) (text string, start, end int) {
	if answer == "" {
		return "", 0, 0
	}

	sentence := answer
	for _, seg := range sentenceSplitRe.Split(content, -1) {
		if strings.Contains(seg, answer) {
			sentence = seg
			break
		}
	}

	start = strings.Index(content, sentence)
	if start < 0 {
		start = 0
		sentence = answer
	}
	end = start + len(sentence)
	return sentence, start, end
}

// textAnchor builds a browser scroll-to-text URL fragment pointing at
// text, ground truth _text_anchor: first3+last3 words if text has more
// than 7 words, else the full whitespace-collapsed text; URL-escaped with
// "-" additionally mapped to "%2D".
func textAnchor(docURL, text string) string {
	if !strings.Contains(docURL, "#") {
		docURL += "#"
	}

	collapsed := strings.Join(strings.Fields(text), " ")
	words := strings.Fields(collapsed)

	var fragment string
	if len(words) > 7 {
		fragment = escapeFragment(strings.Join(words[:3], " ")) + "," + escapeFragment(strings.Join(words[len(words)-3:], " "))
	} else {
		fragment = escapeFragment(collapsed)
	}
	return docURL + ":~:text=" + fragment
}

func escapeFragment(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "-", "%2D")
}

// assemble builds the final SearchResult tree: any candidate whose
// Document has a parent present among the candidates is nested under
// that parent (the parent's own score is raised to the max of the two);
// a candidate whose parent is absent from the candidate set but exists in
// the store has a content-less shell parent loaded on demand.
func (p *Pipeline) assemble(ctx context.Context, candidates []*candidate) ([]SearchResult, error) {
	byDocID := make(map[int64]*candidate, len(candidates))
	for _, c := range candidates {
		byDocID[c.doc.ID] = c
	}

	top := make([]*candidate, 0, len(candidates))
	promoted := make(map[*candidate]bool)
	for _, c := range candidates {
		if c.doc.ParentID == nil {
			continue
		}
		if parent, ok := byDocID[*c.doc.ParentID]; ok && parent != c && !promoted[parent] {
			c.parent = parent
			promoted[parent] = true
		}
	}
	for _, c := range candidates {
		if !promoted[c] {
			top = append(top, c)
		}
	}

	results := make([]SearchResult, 0, len(top))
	docIDs := make([]int64, 0, len(top))
	for _, c := range top {
		result, err := p.toSearchResult(ctx, c)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
		docIDs = append(docIDs, c.doc.ID)
	}

	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		if !results[a].Time.Equal(results[b].Time) {
			return results[a].Time.After(results[b].Time)
		}
		return docIDs[a] < docIDs[b]
	})

	ordered := make([]SearchResult, len(results))
	for i, idx := range order {
		ordered[i] = results[idx]
	}
	return ordered, nil
}

func (p *Pipeline) toSearchResult(ctx context.Context, c *candidate) (SearchResult, error) {
	var parentResult *SearchResult
	switch {
	case c.parent != nil:
		pr, err := p.toSearchResult(ctx, c.parent)
		if err != nil {
			return SearchResult{}, err
		}
		if float64(c.score+12)/24*100 > pr.Score {
			pr.Score = float64(c.score+12) / 24 * 100
		}
		parentResult = &pr
	case c.doc.ParentID != nil:
		parentDoc, err := p.Store.LoadDocument(ctx, *c.doc.ParentID)
		if err != nil {
			return SearchResult{}, fmt.Errorf("load parent document %d: %w", *c.doc.ParentID, err)
		}
		shell := &candidate{rec: store.ChunkRecord{SourceTypeName: c.rec.SourceTypeName}, doc: parentDoc, score: c.score}
		pr, err := p.toSearchResult(ctx, shell)
		if err != nil {
			return SearchResult{}, err
		}
		parentResult = &pr
	}

	answerText := c.answerText
	content := []TextPart{{Text: answerText, Bold: true}}
	if c.answerEnd > 0 && c.answerEnd < len(c.rec.Chunk.Content)-1 {
		suffixWords := strings.Fields(c.rec.Chunk.Content[c.answerEnd:])
		if len(suffixWords) > 20 {
			suffixWords = suffixWords[:20]
		}
		if len(suffixWords) > 0 {
			content = append(content, TextPart{Text: strings.Join(suffixWords, " "), Bold: false})
		}
	}

	result := SearchResult{
		Score:          float64(c.score+12) / 24 * 100,
		Content:        content,
		Author:         c.doc.Author,
		AuthorImageURL: c.doc.AuthorImageURL,
		Title:          c.doc.Title,
		URL:            textAnchor(c.doc.URL, answerText),
		Time:           c.doc.Timestamp,
		Location:       c.doc.Location,
		DataSource:     c.rec.SourceTypeName,
		Kind:           c.doc.Kind,
		FileKind:       c.doc.FileKind,
		Status:         c.doc.Status,
	}

	if parentResult != nil {
		parentResult.Child = &result
		return *parentResult, nil
	}
	return result, nil
}
