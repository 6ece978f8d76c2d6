// Package indexer implements the batch indexer (C9): a single dedicated
// loop that drains IndexQ, reconciles re-indexed documents against the
// store, splits content into Chunks, and keeps the lexical (C7) and
// vector (C8) indexes in lockstep with the store. Grounded on the
// original implementation's Indexer.index_documents
// (original_source/app/indexing/index_documents.py); it runs as one plain
// loop that checks ctx between iterations.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kadirpekel/corpussearch/internal/lexical"
	"github.com/kadirpekel/corpussearch/internal/mlclients"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/store"
	"github.com/kadirpekel/corpussearch/internal/telemetry"
	"github.com/kadirpekel/corpussearch/internal/vectorindex"
)

// DefaultMaxBatchDocs and DefaultDrainTimeout mirror the spec defaults
// (config.IndexerConfig fills these in when unset).
const (
	DefaultMaxBatchDocs   = 5000
	DefaultDrainTimeout   = time.Second
	DefaultMinChunkLength = 256
)

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n`)

// Indexer consumes IndexQ in batches and reconciles the store, the
// lexical index and the vector index.
type Indexer struct {
	Store    *store.Store
	Lexical  *lexical.Index
	Vector   vectorindex.Backend
	Embedder mlclients.Embedder
	IndexQ   *queue.Queue[model.IndexItem]
	Metrics  *telemetry.Metrics

	// LexicalPath is where the lexical index's gob blob (§4.6/§6's
	// bm25_index.bin) is written after every full rebuild. Empty disables
	// persistence, which tests rely on to avoid touching the filesystem.
	LexicalPath string

	MaxBatchDocs   int
	DrainTimeout   time.Duration
	MinChunkLength int
}

func (x *Indexer) defaults() (maxBatchDocs int, drainTimeout time.Duration, minChunkLength int) {
	maxBatchDocs = x.MaxBatchDocs
	if maxBatchDocs <= 0 {
		maxBatchDocs = DefaultMaxBatchDocs
	}
	drainTimeout = x.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	minChunkLength = x.MinChunkLength
	if minChunkLength <= 0 {
		minChunkLength = DefaultMinChunkLength
	}
	return
}

// Run loops until ctx is cancelled, draining and processing one batch per
// iteration.
func (x *Indexer) Run(ctx context.Context) error {
	maxBatchDocs, drainTimeout, _ := x.defaults()

	for ctx.Err() == nil {
		items, err := x.IndexQ.Drain(ctx, maxBatchDocs, drainTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("indexer: drain failed", "error", err)
			continue
		}
		if len(items) == 0 {
			continue
		}

		if err := x.processBatch(ctx, items); err != nil {
			// §4.8 invariant: on any exception during steps 1-3, no acks
			// are issued for the batch; every item is nacked back to ready
			// so a later iteration redelivers it.
			slog.Error("indexer: batch processing failed, nacking items", "batch_size", len(items), "error", err)
			for _, item := range items {
				if err := x.IndexQ.Nack(ctx, item.ID); err != nil {
					slog.Error("indexer: failed to nack item", "item_id", item.ID, "error", err)
				}
			}
			continue
		}

		for _, item := range items {
			if err := x.IndexQ.Ack(ctx, item.ID); err != nil {
				slog.Error("indexer: failed to ack indexed item", "item_id", item.ID, "error", err)
			}
		}
	}
	return nil
}

// processBatch runs steps 1-3 of §4.8 for one drained batch. It returns
// an error if any step fails, in which case the caller must not ack.
func (x *Indexer) processBatch(ctx context.Context, items []queue.Item[model.IndexItem]) error {
	docs := make([]*model.Document, 0, len(items))
	for _, item := range items {
		if item.Payload.Document != nil {
			docs = append(docs, item.Payload.Document)
		}
	}
	if len(docs) == 0 {
		return nil
	}

	// Step 1: remove any existing Document sharing (source_id, external_id)
	// with an incoming one, cascading to its chunks and the index backends.
	if err := x.reconcileExisting(ctx, docs); err != nil {
		return fmt.Errorf("reconcile existing documents: %w", err)
	}

	// Step 2: split content into Chunks and insert each Document tree.
	var newChunkIDs []int64
	for _, doc := range docs {
		splitDocumentInPlace(doc, x.minChunkLengthOrDefault())
		_, chunkIDs, err := x.Store.InsertDocumentTree(ctx, doc.SourceID, doc)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ExternalID, err)
		}
		newChunkIDs = append(newChunkIDs, chunkIDs...)
		if x.Metrics != nil {
			x.Metrics.DocumentsIndexed.Inc()
		}
	}

	// Step 3: rebuild the lexical index from the full store, then encode
	// and upsert the newly-inserted chunks into the vector index.
	if err := x.rebuildLexical(ctx); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	if err := x.upsertVectors(ctx, newChunkIDs); err != nil {
		return fmt.Errorf("upsert vectors: %w", err)
	}

	return nil
}

func (x *Indexer) minChunkLengthOrDefault() int {
	_, _, minChunkLength := x.defaults()
	return minChunkLength
}

// reconcileExisting removes any Document already in the store that shares
// a (source_id, external_id) with an incoming one, per source, cascading
// the removal to C7 (full rebuild happens later in the batch) and C8.
func (x *Indexer) reconcileExisting(ctx context.Context, docs []*model.Document) error {
	bySource := make(map[int64][]string)
	for _, doc := range docs {
		bySource[doc.SourceID] = append(bySource[doc.SourceID], doc.ExternalID)
	}

	for sourceID, externalIDs := range bySource {
		existing, err := x.Store.FindExistingDocumentIDs(ctx, sourceID, externalIDs)
		if err != nil {
			return err
		}
		for extID, docID := range existing {
			chunkIDs, err := x.Store.ChunkIDsForDocument(ctx, docID)
			if err != nil {
				return fmt.Errorf("collect chunk ids for document %d: %w", docID, err)
			}
			if err := x.Store.DeleteDocument(ctx, docID); err != nil {
				return fmt.Errorf("delete existing document %d: %w", docID, err)
			}
			for _, chunkID := range chunkIDs {
				if err := x.Vector.Delete(ctx, chunkID); err != nil {
					return fmt.Errorf("remove chunk %d from vector index: %w", chunkID, err)
				}
			}
			if x.Metrics != nil {
				x.Metrics.DocumentsReindexed.Inc()
			}
			slog.Info("indexer: replaced existing document", "source_id", sourceID, "external_id", extID, "removed_chunks", len(chunkIDs))
		}
	}
	return nil
}

func (x *Indexer) rebuildLexical(ctx context.Context) error {
	start := time.Now()
	chunks, err := x.Store.AllChunks(ctx)
	if err != nil {
		return err
	}

	records := make([]lexical.Record, len(chunks))
	for i, c := range chunks {
		records[i] = lexical.Record{
			ChunkID:        c.Chunk.ID,
			Content:        c.Chunk.Content,
			Title:          c.Title,
			Author:         c.Author,
			SourceTypeName: c.SourceTypeName,
		}
	}
	x.Lexical.Rebuild(records)

	if x.LexicalPath != "" {
		if err := x.Lexical.Save(x.LexicalPath); err != nil {
			slog.Error("indexer: failed to persist lexical index blob", "path", x.LexicalPath, "error", err)
		}
	}

	if x.Metrics != nil {
		x.Metrics.IndexRebuildSecs.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (x *Indexer) upsertVectors(ctx context.Context, chunkIDs []int64) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	records, err := x.Store.FetchChunksWithDocuments(ctx, chunkIDs)
	if err != nil {
		return err
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = indexingText(r.Chunk.Content, r.Title)
	}

	vectors, err := x.Embedder.Encode(ctx, texts)
	if err != nil {
		return fmt.Errorf("encode chunks: %w", err)
	}
	if len(vectors) != len(records) {
		return errors.New("embedder returned mismatched vector count")
	}

	for i, r := range records {
		if err := x.Vector.Upsert(ctx, r.Chunk.ID, vectors[i]); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", r.Chunk.ID, err)
		}
	}
	return nil
}

// indexingText mirrors _add_metadata_for_indexing: the chunk's content,
// suffixed with "; "+title when the owning document has one.
func indexingText(content, title string) string {
	if title == "" {
		return content
	}
	return content + "; " + title
}

// splitDocumentInPlace recursively splits each Document's Content into
// Chunks (this Document's own Chunks field, not its children's), matching
// Indexer._split_into_paragraphs: consecutive blank-line-separated
// paragraphs are merged together until the running total exceeds
// minLength, at which point a Chunk is emitted and accumulation restarts.
func splitDocumentInPlace(doc *model.Document, minLength int) {
	doc.Chunks = splitIntoChunks(doc.Content, minLength)
	for _, child := range doc.Children {
		splitDocumentInPlace(child, minLength)
	}
}

func splitIntoChunks(text string, minLength int) []*model.Chunk {
	paragraphs := paragraphSplitRe.Split(text, -1)

	var chunks []*model.Chunk
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(p)

		if current.Len() > minLength {
			chunks = append(chunks, &model.Chunk{Content: current.String()})
			current.Reset()
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, &model.Chunk{Content: current.String()})
	}
	return chunks
}
