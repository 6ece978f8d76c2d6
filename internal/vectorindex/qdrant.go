package vectorindex

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig configures the external Qdrant backend.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

// SetDefaults fills in the standard Qdrant gRPC port.
func (c *QdrantConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
}

// QdrantBackend is the external, pluggable dense-vector backend for
// deployments that outgrow the embeddable default. Adapted from the
// teacher's QdrantProvider (pkg/vector/qdrant.go), simplified to one
// fixed collection keyed by chunk id with cosine distance.
type QdrantBackend struct {
	client *qdrant.Client
}

// NewQdrantBackend connects to an external Qdrant instance and ensures
// the chunks collection exists with the fixed embedding dimension.
func NewQdrantBackend(ctx context.Context, cfg QdrantConfig) (*QdrantBackend, error) {
	cfg.SetDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host, Port: cfg.Port, APIKey: cfg.APIKey, UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: check collection: %w", err)
	}
	if !exists {
		if err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size: uint64(Dimension), Distance: qdrant.Distance_Cosine,
			}),
		}); err != nil {
			return nil, fmt.Errorf("vectorindex: create collection: %w", err)
		}
	}

	return &QdrantBackend{client: client}, nil
}

func (b *QdrantBackend) Upsert(ctx context.Context, chunkID int64, vector []float32) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(chunkID)),
		Vectors: qdrant.NewVectors(vector...),
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: upsert chunk %d: %w", chunkID, err)
	}
	return nil
}

func (b *QdrantBackend) Delete(ctx context.Context, chunkID int64) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: []*qdrant.PointId{qdrant.NewIDNum(uint64(chunkID))}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorindex: delete chunk %d: %w", chunkID, err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, vector []float32, topK int) ([]Hit, error) {
	pointsClient := b.client.GetPointsClient()
	result, err := pointsClient.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}

	hits := make([]Hit, 0, len(result.Result))
	for _, point := range result.Result {
		if point.Id == nil || point.Id.PointIdOptions == nil {
			continue
		}
		num, ok := point.Id.PointIdOptions.(*qdrant.PointId_Num)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ChunkID: int64(num.Num), Score: float64(point.Score)})
	}
	return hits, nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}
