// Package mlclients declares the Go interfaces for the three external ML
// model contracts this system depends on but does not ship weights for
// (§4.10): dense embeddings, cross-encoder reranking, and extractive
// question answering. Each interface's stub implementation is
// deterministic (hash-based embeddings, term-overlap scoring) and is
// meant for tests only. Grounded on the teacher's EmbedderProvider
// interface shape (pkg/embedders/registry.go): Embed/GetDimension/Close.
package mlclients

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// Embedder produces unit-normalised dense vectors for a batch of texts.
type Embedder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// CrossEncoder scores (query, passage) pairs for relevance; higher is
// more relevant. Used for both the cheap and strong rerank stages (§4.9).
type CrossEncoder interface {
	Score(ctx context.Context, pairs [][2]string) ([]float32, error)
}

// Span is one extractive-QA answer candidate: the answer text plus its
// byte offsets into the passage it was extracted from, and a confidence.
type Span struct {
	Text  string
	Start int
	End   int
	Score float32
}

// QAModel extracts the best answer span from each (question, context) pair.
type QAModel interface {
	Answer(ctx context.Context, questions, contexts []string) ([]Span, error)
}

// StubEmbedder is a deterministic, hash-based Embedder for tests: each
// text hashes to a fixed-dimension vector, L2-normalised so cosine and
// inner-product similarity behave like a real embedding space.
type StubEmbedder struct {
	dim int
}

// NewStubEmbedder builds a StubEmbedder producing vectors of dim floats
// (the system-wide default is vectorindex.Dimension == 384).
func NewStubEmbedder(dim int) *StubEmbedder {
	return &StubEmbedder{dim: dim}
}

func (e *StubEmbedder) Dimension() int { return e.dim }
func (e *StubEmbedder) Close() error   { return nil }

func (e *StubEmbedder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text, e.dim)
	}
	return out, nil
}

// hashEmbed derives a reproducible unit vector from text by streaming
// sha256 over an incrementing counter, matching dimension regardless of
// input length.
func hashEmbed(text string, dim int) []float32 {
	v := make([]float32, dim)
	var sumSq float64
	block := []byte(text)
	for i := 0; i < dim; i += 8 {
		h := sha256.Sum256(append(block, byte(i/8)))
		for j := 0; j < 8 && i+j < dim; j++ {
			bits := binary.BigEndian.Uint32(h[j*4 : j*4+4])
			val := float64(int32(bits)) / float64(math.MaxInt32)
			v[i+j] = float32(val)
			sumSq += val * val
		}
	}

	norm := float32(math.Sqrt(sumSq))
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}

// StubCrossEncoder is a deterministic CrossEncoder for tests: scores a
// pair by the fraction of query terms present in the passage, scaled to
// resemble a real cross-encoder's output range.
type StubCrossEncoder struct{}

// NewStubCrossEncoder builds a StubCrossEncoder.
func NewStubCrossEncoder() *StubCrossEncoder { return &StubCrossEncoder{} }

func (e *StubCrossEncoder) Score(_ context.Context, pairs [][2]string) ([]float32, error) {
	scores := make([]float32, len(pairs))
	for i, pair := range pairs {
		scores[i] = lexicalOverlapScore(pair[0], pair[1])
	}
	return scores, nil
}

func lexicalOverlapScore(query, passage string) float32 {
	queryTerms := strings.Fields(strings.ToLower(query))
	if len(queryTerms) == 0 {
		return 0
	}
	passageLower := strings.ToLower(passage)

	matches := 0
	for _, term := range queryTerms {
		if strings.Contains(passageLower, term) {
			matches++
		}
	}

	// Published cross-encoders for this pipeline emit roughly [-12, 12];
	// scale the match fraction into that range so the stub exercises the
	// same downstream (s+12)/24*100 formula realistically.
	fraction := float32(matches) / float32(len(queryTerms))
	return fraction*24 - 12
}

// StubQAModel is a deterministic QAModel for tests: it returns the
// sentence within each context with the highest lexical overlap with its
// question, as the answer span.
type StubQAModel struct{}

// NewStubQAModel builds a StubQAModel.
func NewStubQAModel() *StubQAModel { return &StubQAModel{} }

func (m *StubQAModel) Answer(_ context.Context, questions, contexts []string) ([]Span, error) {
	if len(questions) != len(contexts) {
		return nil, errMismatchedLengths
	}

	spans := make([]Span, len(questions))
	for i, context := range contexts {
		spans[i] = bestSentence(questions[i], context)
	}
	return spans, nil
}

func bestSentence(question, passage string) Span {
	if passage == "" {
		return Span{}
	}

	sentences := strings.FieldsFunc(passage, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	if len(sentences) == 0 {
		sentences = []string{passage}
	}

	best := Span{Text: strings.TrimSpace(sentences[0])}
	bestScore := float32(-1)
	offset := 0
	for _, sentence := range sentences {
		start := strings.Index(passage[offset:], sentence) + offset
		end := start + len(sentence)
		offset = end

		score := lexicalOverlapScore(question, sentence)
		if score > bestScore {
			bestScore = score
			best = Span{Text: strings.TrimSpace(sentence), Start: start, End: end, Score: score}
		}
	}
	return best
}

type mismatchedLengthsError struct{}

func (mismatchedLengthsError) Error() string { return "mlclients: questions and contexts length mismatch" }

var errMismatchedLengths = mismatchedLengthsError{}
