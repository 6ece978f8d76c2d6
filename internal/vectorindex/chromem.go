package vectorindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemBackend is the default, zero-config embedded dense-vector
// backend: pure Go, in-process, with optional gob file persistence.
// Adapted from the teacher's ChromemProvider (pkg/vector/chromem.go),
// simplified to one fixed collection keyed by chunk id.
type ChromemBackend struct {
	db          *chromem.DB
	persistPath string

	mu         sync.Mutex
	collection *chromem.Collection
}

// identityEmbed is required by chromem-go's collection constructor but
// never invoked: every vector here is pre-computed by internal/mlclients.
func identityEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vectorindex: embedding function invoked but vectors are always pre-computed")
}

// NewChromemBackend opens (or creates) a chromem-go database. If
// persistPath is non-empty, an existing file at persistPath is imported
// on start, and the database is exported to that same file after every
// mutating call and on Close.
func NewChromemBackend(persistPath string) (*ChromemBackend, error) {
	var db *chromem.DB

	if persistPath != "" {
		if err := os.MkdirAll(filepath.Dir(persistPath), 0o755); err != nil {
			return nil, fmt.Errorf("vectorindex: create persist dir: %w", err)
		}
		if _, err := os.Stat(persistPath); err == nil {
			db = chromem.NewDB()
			//nolint:staticcheck // counterpart of the Export call in persist
			if err := db.Import(persistPath, ""); err != nil {
				return nil, fmt.Errorf("vectorindex: load existing db: %w", err)
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	b := &ChromemBackend{db: db, persistPath: persistPath}
	col, err := db.GetOrCreateCollection(collectionName, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: get/create collection: %w", err)
	}
	b.collection = col
	return b, nil
}

func (b *ChromemBackend) Upsert(ctx context.Context, chunkID int64, vector []float32) error {
	doc := chromem.Document{ID: strconv.FormatInt(chunkID, 10), Embedding: vector}
	if err := b.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("vectorindex: upsert chunk %d: %w", chunkID, err)
	}
	return b.persist()
}

func (b *ChromemBackend) Delete(ctx context.Context, chunkID int64) error {
	if err := b.collection.Delete(ctx, nil, nil, strconv.FormatInt(chunkID, 10)); err != nil {
		return fmt.Errorf("vectorindex: delete chunk %d: %w", chunkID, err)
	}
	return b.persist()
}

func (b *ChromemBackend) Search(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	n := b.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	results, err := b.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		chunkID, err := strconv.ParseInt(r.ID, 10, 64)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ChunkID: chunkID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

func (b *ChromemBackend) Close() error {
	return b.persist()
}

func (b *ChromemBackend) persist() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.persistPath == "" {
		return nil
	}
	//nolint:staticcheck // matches the teacher's chromem persistence call
	if err := b.db.Export(b.persistPath, false, ""); err != nil {
		return fmt.Errorf("vectorindex: persist: %w", err)
	}
	return nil
}
