package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	require.NoError(t, dbCfg.Validate())

	pool := config.NewDBPool()
	t.Cleanup(func() { _ = pool.Close() })

	s, err := Open(context.Background(), dbCfg, pool)
	require.NoError(t, err)
	return s
}

func TestUpsertAndLoadSourceTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := model.SourceType{
		Name: "mock", DisplayName: "Mock Source",
		ConfigSchema: []model.ConfigField{{Name: "token", InputKind: model.InputPassword, Label: "Token"}},
	}
	require.NoError(t, s.UpsertSourceType(ctx, st))

	loaded, err := s.LoadSourceTypes(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "mock", loaded[0].Name)
	assert.Equal(t, "Mock Source", loaded[0].DisplayName)
	require.Len(t, loaded[0].ConfigSchema, 1)
	assert.Equal(t, "token", loaded[0].ConfigSchema[0].Name)

	// Re-upsert with a changed display name overwrites, never duplicates.
	st.DisplayName = "Mock Source v2"
	require.NoError(t, s.UpsertSourceType(ctx, st))
	loaded, err = s.LoadSourceTypes(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Mock Source v2", loaded[0].DisplayName)
}

func TestCreateAndLoadSources(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceType(ctx, model.SourceType{Name: "mock", DisplayName: "Mock"}))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src, err := s.CreateSource(ctx, "mock", `{"token":"abc"}`, now)
	require.NoError(t, err)
	assert.NotZero(t, src.ID)
	assert.True(t, src.LastIndexedAt.Equal(model.ZeroTime))

	loaded, err := s.LoadSources(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, src.ID, loaded[0].Source.ID)
	assert.Equal(t, "mock", loaded[0].Type.Name)

	reindexAt := now.Add(time.Hour)
	require.NoError(t, s.UpdateLastIndexedAt(ctx, src.ID, reindexAt))
	loaded, err = s.LoadSources(ctx)
	require.NoError(t, err)
	assert.True(t, loaded[0].Source.LastIndexedAt.Equal(reindexAt))
}

func TestInsertDocumentTreeAndFetchChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceType(ctx, model.SourceType{Name: "mock", DisplayName: "Mock"}))
	src, err := s.CreateSource(ctx, "mock", "{}", time.Now())
	require.NoError(t, err)

	doc := &model.Document{
		ExternalID: "doc-1", Kind: model.KindDocument, Title: "Parent",
		Chunks: []*model.Chunk{{Content: "chunk one"}, {Content: "chunk two"}},
		Children: []*model.Document{
			{ExternalID: "doc-1-child", Kind: model.KindComment, Title: "Child",
				Chunks: []*model.Chunk{{Content: "child chunk"}}},
		},
	}

	docID, chunkIDs, err := s.InsertDocumentTree(ctx, src.ID, doc)
	require.NoError(t, err)
	assert.NotZero(t, docID)
	assert.Len(t, chunkIDs, 3)

	all, err := s.AllChunks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	fetched, err := s.FetchChunksWithDocuments(ctx, chunkIDs[:2])
	require.NoError(t, err)
	assert.Len(t, fetched, 2)
	for _, rec := range fetched {
		assert.Equal(t, "mock", rec.SourceTypeName)
	}

	existing, err := s.FindExistingDocumentIDs(ctx, src.ID, []string{"doc-1", "doc-1-child", "missing"})
	require.NoError(t, err)
	assert.Equal(t, docID, existing["doc-1"])
	assert.Contains(t, existing, "doc-1-child")
	assert.NotContains(t, existing, "missing")
}

func TestDeleteDocumentCascadesToChunksAndChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceType(ctx, model.SourceType{Name: "mock", DisplayName: "Mock"}))
	src, err := s.CreateSource(ctx, "mock", "{}", time.Now())
	require.NoError(t, err)

	doc := &model.Document{
		ExternalID: "doc-1", Kind: model.KindDocument,
		Chunks: []*model.Chunk{{Content: "alpha"}},
		Children: []*model.Document{
			{ExternalID: "doc-1-child", Kind: model.KindComment, Chunks: []*model.Chunk{{Content: "beta"}}},
		},
	}
	docID, _, err := s.InsertDocumentTree(ctx, src.ID, doc)
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, docID))

	all, err := s.AllChunks(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteSourceInvokesIndexCallbackBeforeCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceType(ctx, model.SourceType{Name: "mock", DisplayName: "Mock"}))
	src, err := s.CreateSource(ctx, "mock", "{}", time.Now())
	require.NoError(t, err)

	doc := &model.Document{ExternalID: "doc-1", Kind: model.KindDocument, Chunks: []*model.Chunk{{Content: "alpha"}}}
	_, chunkIDs, err := s.InsertDocumentTree(ctx, src.ID, doc)
	require.NoError(t, err)

	var seen []int64
	require.NoError(t, s.DeleteSource(ctx, src.ID, func(_ context.Context, ids []int64) error {
		seen = ids
		return nil
	}))
	assert.ElementsMatch(t, chunkIDs, seen)

	sources, err := s.LoadSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestDeleteSourceRollsBackWhenIndexCallbackFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertSourceType(ctx, model.SourceType{Name: "mock", DisplayName: "Mock"}))
	src, err := s.CreateSource(ctx, "mock", "{}", time.Now())
	require.NoError(t, err)

	err = s.DeleteSource(ctx, src.ID, func(_ context.Context, _ []int64) error {
		return assert.AnError
	})
	require.Error(t, err)

	sources, err := s.LoadSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, src.ID, sources[0].Source.ID)
}
