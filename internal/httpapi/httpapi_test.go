package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/connectors/mock"
	"github.com/kadirpekel/corpussearch/internal/indexer"
	"github.com/kadirpekel/corpussearch/internal/lexical"
	"github.com/kadirpekel/corpussearch/internal/mlclients"
	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/query"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/sourcemgr"
	"github.com/kadirpekel/corpussearch/internal/store"
	"github.com/kadirpekel/corpussearch/internal/vectorindex"
	"github.com/kadirpekel/corpussearch/internal/worker"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "test.db")}
	dbCfg.SetDefaults()
	st, err := store.Open(context.Background(), dbCfg, config.NewDBPool())
	require.NoError(t, err)

	taskQCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "tasks.sqlite3")}
	taskQCfg.SetDefaults()
	taskQ, err := queue.Open[model.TaskItem](context.Background(), taskQCfg, config.NewDBPool())
	require.NoError(t, err)

	indexQCfg := config.DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "indexing.sqlite3")}
	indexQCfg.SetDefaults()
	indexQ, err := queue.Open[model.IndexItem](context.Background(), indexQCfg, config.NewDBPool())
	require.NoError(t, err)

	classes := connector.NewRegistry()
	require.NoError(t, classes.Register(mock.New()))
	sources := sourcemgr.New(classes, st)
	require.NoError(t, sources.Bootstrap(context.Background()))

	vec, err := vectorindex.NewChromemBackend("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vec.Close() })

	lex := lexical.New()
	pipeline := &query.Pipeline{
		Store: st, Lexical: lex, Vector: vec,
		Embedder: mlclients.NewStubEmbedder(vectorindex.Dimension),
		Cheap:    mlclients.NewStubCrossEncoder(),
		Strong:   mlclients.NewStubCrossEncoder(),
		QA:       mlclients.NewStubQAModel(),
		Kd:       10, Kl: 10,
	}

	return &API{
		Sources: sources, Store: st, TaskQ: taskQ, IndexQ: indexQ, Pipeline: pipeline, Vector: vec,
		RebuildLexical: func(ctx context.Context) error {
			records, err := st.AllChunks(ctx)
			if err != nil {
				return err
			}
			lexRecords := make([]lexical.Record, len(records))
			for i, r := range records {
				lexRecords[i] = lexical.Record{ChunkID: r.Chunk.ID, Content: r.Chunk.Content, Title: r.Title}
			}
			lex.Rebuild(lexRecords)
			return nil
		},
	}
}

func TestListTypesReturnsRegisteredConnectors(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/data-sources/types", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var views []dataSourceTypeView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "mock", views[0].Name)
}

func TestCreateSourceThenListConnected(t *testing.T) {
	a := newTestAPI(t)

	body := strings.NewReader(`{"name":"mock","config":{"token":"T"}}`)
	req := httptest.NewRequest(http.MethodPost, "/data-sources", body)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var sourceID int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sourceID))
	assert.NotZero(t, sourceID)

	req = httptest.NewRequest(http.MethodGet, "/data-sources/connected", nil)
	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var connected []connectedSourceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &connected))
	require.Len(t, connected, 1)
	assert.Equal(t, sourceID, connected[0].ID)

	taskDepth, err := a.TaskQ.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, taskDepth, "creating a source must immediately enqueue a forced crawl")
}

func TestCreateSourceRejectsInvalidConfig(t *testing.T) {
	a := newTestAPI(t)
	body := strings.NewReader(`{"name":"mock","config":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/data-sources", body)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestDeleteSourceRemovesItFromConnected(t *testing.T) {
	a := newTestAPI(t)
	inst, err := a.Sources.CreateSource(context.Background(), "mock", map[string]string{"token": "T"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/data-sources/"+strconv.FormatInt(inst.SourceID, 10), nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := a.Sources.GetInstance(inst.SourceID)
	assert.False(t, ok)
}

func TestStatusReportsQueueDepths(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.TaskQ.Put(context.Background(), model.TaskItem{SourceID: 1, FunctionName: "x"}, 1)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var st statusView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.DocsLeftToIndex)
}

func TestSearchReturnsEmptyArrayWhenNothingIndexed(t *testing.T) {
	a := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/search?query=anything&top_k=5", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

// TestCreateSourceIndexesAndSearchesEndToEnd drives the real
// POST /data-sources -> Manager.Index(force=true) -> worker pool ->
// indexer -> GET /search sequence, rather than exercising any of those
// stages against a queue item put there directly by the test. Mock's two
// seed documents are dated 2024, well before "now"; this is the exact
// scenario the worker's Runtime.LastIndexedAt regression hid, since a
// value of "now" for a freshly created source would make both seeds look
// already-indexed and nothing would ever reach the index or the query.
func TestCreateSourceIndexesAndSearchesEndToEnd(t *testing.T) {
	a := newTestAPI(t)

	pool := &worker.Pool{
		Size: 2, TaskQ: a.TaskQ, IndexQ: a.IndexQ, Sources: a.Sources,
		GetTimeout: 50 * time.Millisecond,
	}
	idx := &indexer.Indexer{
		Store: a.Store, Lexical: a.Pipeline.Lexical, Vector: a.Vector,
		Embedder: a.Pipeline.Embedder, IndexQ: a.IndexQ,
	}

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go pool.Run(runCtx)
	go idx.Run(runCtx)

	body := strings.NewReader(`{"name":"mock","config":{"token":"T"}}`)
	req := httptest.NewRequest(http.MethodPost, "/data-sources", body)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		chunks, err := a.Store.AllChunks(context.Background())
		return err == nil && len(chunks) > 0
	}, 4*time.Second, 20*time.Millisecond, "documents from the newly created source must reach the store")

	require.NoError(t, a.RebuildLexical(context.Background()))

	req = httptest.NewRequest(http.MethodGet, "/search?query=quick fox&top_k=5", nil)
	w = httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var results []searchResultView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.NotEmpty(t, results, "pre-existing upstream documents from a source's first forced index must be searchable")
	assert.Equal(t, "Hello World", results[0].Title)
}

func TestClearIndexWipesDocuments(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	require.NoError(t, a.Store.UpsertSourceType(ctx, model.SourceType{Name: "mock", DisplayName: "Mock"}))
	src, err := a.Store.CreateSource(ctx, "mock", "{}", time.Now())
	require.NoError(t, err)
	_, _, err = a.Store.InsertDocumentTree(ctx, src.ID, &model.Document{
		SourceID: src.ID, ExternalID: "doc-1", Kind: model.KindDocument,
		Chunks: []*model.Chunk{{Content: "hello world"}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/clear-index", nil)
	w := httptest.NewRecorder()
	a.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	chunks, err := a.Store.AllChunks(ctx)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
