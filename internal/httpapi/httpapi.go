// Package httpapi mounts the external HTTP surface (§6) on a
// go-chi/chi router: connector discovery, source lifecycle, search, index
// status and the clear-index operation. Error responses follow the
// taxonomy in internal/model/errors.go: InvalidConfig/KnownError as 501
// with their literal message, anything else as an opaque 500.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/corpussearch/internal/model"
	"github.com/kadirpekel/corpussearch/internal/query"
	"github.com/kadirpekel/corpussearch/internal/queue"
	"github.com/kadirpekel/corpussearch/internal/sourcemgr"
	"github.com/kadirpekel/corpussearch/internal/store"
	"github.com/kadirpekel/corpussearch/internal/telemetry"
	"github.com/kadirpekel/corpussearch/internal/vectorindex"
)

// DefaultIconDir and DefaultIconName mirror the original static icon layout.
const (
	DefaultIconDir  = "static/data_source_icons"
	DefaultIconName = "default_icon.png"
)

// API wires the store, queues, indexes and pipeline into HTTP handlers.
type API struct {
	Sources  *sourcemgr.Manager
	Store    *store.Store
	TaskQ    *queue.Queue[model.TaskItem]
	IndexQ   *queue.Queue[model.IndexItem]
	Pipeline *query.Pipeline
	Vector   vectorindex.Backend
	Metrics  *telemetry.Metrics

	// IconDir is the directory icons are looked up in; empty means
	// DefaultIconDir. Missing files fall back to DefaultIconName, and a
	// missing default simply omits the field.
	IconDir string

	// RebuildLexical rebuilds the lexical index from the store; supplied
	// by the application wiring (the indexer owns the live lexical.Index
	// instance). Handlers that mutate the store's Document set (delete
	// source, clear index) call it to keep C7 in sync with C2.
	RebuildLexical func(ctx context.Context) error
}

// Router builds the chi.Router exposing every §6 endpoint.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/data-sources/types", a.handleListTypes)
	r.Get("/data-sources/connected", a.handleListConnected)
	r.Post("/data-sources", a.handleCreateSource)
	r.Delete("/data-sources/{id}", a.handleDeleteSource)
	r.Post("/data-sources/{name}/list-locations", a.handleListLocations)
	r.Get("/search", a.handleSearch)
	r.Get("/status", a.handleStatus)
	r.Post("/clear-index", a.handleClearIndex)

	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics.Handler())
	}
	return r
}

type dataSourceTypeView struct {
	Name             string              `json:"name"`
	DisplayName      string              `json:"display_name"`
	ConfigFields     []model.ConfigField `json:"config_fields"`
	ImageBase64      string              `json:"image_base64,omitempty"`
	HasPrerequisites bool                `json:"has_prerequisites"`
}

func (a *API) handleListTypes(w http.ResponseWriter, r *http.Request) {
	classes := a.Sources.Classes()
	views := make([]dataSourceTypeView, 0, len(classes))
	for _, class := range classes {
		views = append(views, dataSourceTypeView{
			Name:             class.Name(),
			DisplayName:      class.DisplayName(),
			ConfigFields:     class.DescribeConfigSchema(),
			ImageBase64:      a.loadIcon(class.Name()),
			HasPrerequisites: class.HasPrerequisites(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) loadIcon(name string) string {
	dir := a.IconDir
	if dir == "" {
		dir = DefaultIconDir
	}

	data, err := os.ReadFile(filepath.Join(dir, name+".png"))
	if err != nil {
		data, err = os.ReadFile(filepath.Join(dir, DefaultIconName))
		if err != nil {
			return ""
		}
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

type connectedSourceView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (a *API) handleListConnected(w http.ResponseWriter, r *http.Request) {
	instances := a.Sources.ListInstances()
	views := make([]connectedSourceView, len(instances))
	for i, inst := range instances {
		views[i] = connectedSourceView{ID: inst.SourceID, Name: inst.TypeName}
	}
	writeJSON(w, http.StatusOK, views)
}

type createSourceRequest struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config"`
}

func (a *API) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewInvalidConfig("malformed request body: %v", err))
		return
	}

	inst, err := a.Sources.CreateSource(r.Context(), req.Name, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}

	// §6: creating a source immediately triggers a forced re-index.
	if err := a.Sources.Index(r.Context(), inst.SourceID, true, func(ctx context.Context, inst *sourcemgr.Instance, asOf time.Time) error {
		_, err := a.TaskQ.Put(ctx, model.TaskItem{SourceID: inst.SourceID, FunctionName: "feed_new_documents", AsOf: asOf}, model.DefaultTaskAttempts)
		return err
	}); err != nil {
		slog.Error("httpapi: failed to enqueue initial crawl", "source_id", inst.SourceID, "error", err)
	}

	writeJSON(w, http.StatusOK, inst.SourceID)
}

func (a *API) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, model.NewInvalidConfig("invalid source id: %v", err))
		return
	}

	if err := a.Sources.DeleteSource(r.Context(), id, func(ctx context.Context, chunkIDs []int64) error {
		for _, chunkID := range chunkIDs {
			if err := a.Vector.Delete(ctx, chunkID); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	if err := a.rebuildLexical(r.Context()); err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rebuildLexical delegates to the application-supplied callback, if any.
func (a *API) rebuildLexical(ctx context.Context) error {
	if a.RebuildLexical != nil {
		return a.RebuildLexical(ctx)
	}
	return nil
}

type listLocationsRequest struct {
	Config map[string]string `json:"config"`
}

func (a *API) handleListLocations(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	class, ok := a.Sources.GetClass(name)
	if !ok {
		writeError(w, model.NewInvalidConfig("unknown connector %q", name))
		return
	}

	var req listLocationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewInvalidConfig("malformed request body: %v", err))
		return
	}

	locations, err := class.ListLocations(r.Context(), req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locations)
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	topK := 10
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			topK = parsed
		}
	}

	results, err := a.Pipeline.Search(r.Context(), q, topK)
	if err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	writeJSON(w, http.StatusOK, toSearchResultViews(results))
}

type textPartView struct {
	Content string `json:"content"`
	Bold    bool   `json:"bold"`
}

type searchResultView struct {
	Score          float64            `json:"score"`
	Content        []textPartView     `json:"content"`
	Author         string             `json:"author"`
	AuthorImageURL string             `json:"author_image_url,omitempty"`
	Title          string             `json:"title"`
	URL            string             `json:"url"`
	Location       string             `json:"location"`
	DataSource     string             `json:"data_source"`
	Time           time.Time          `json:"time"`
	Kind           model.DocumentKind `json:"kind"`
	FileKind       *model.FileKind    `json:"file_kind,omitempty"`
	Status         *string            `json:"status,omitempty"`
	Child          *searchResultView  `json:"child,omitempty"`
}

func toSearchResultViews(results []query.SearchResult) []searchResultView {
	views := make([]searchResultView, len(results))
	for i, r := range results {
		views[i] = toSearchResultView(r)
	}
	return views
}

func toSearchResultView(r query.SearchResult) searchResultView {
	parts := make([]textPartView, len(r.Content))
	for i, p := range r.Content {
		parts[i] = textPartView{Content: p.Text, Bold: p.Bold}
	}
	v := searchResultView{
		Score: r.Score, Content: parts, Author: r.Author, AuthorImageURL: r.AuthorImageURL,
		Title: r.Title, URL: r.URL, Location: r.Location, DataSource: r.DataSource,
		Time: r.Time, Kind: r.Kind, FileKind: r.FileKind, Status: r.Status,
	}
	if r.Child != nil {
		child := toSearchResultView(*r.Child)
		v.Child = &child
	}
	return v
}

type statusView struct {
	DocsInIndexing  int `json:"docs_in_indexing"`
	DocsLeftToIndex int `json:"docs_left_to_index"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	indexDepth, err := a.IndexQ.Depth(r.Context())
	if err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	taskDepth, err := a.TaskQ.Depth(r.Context())
	if err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	writeJSON(w, http.StatusOK, statusView{DocsInIndexing: indexDepth, DocsLeftToIndex: taskDepth})
}

func (a *API) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	chunks, err := a.Store.AllChunks(ctx)
	if err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	if err := a.Store.DeleteAllDocuments(ctx); err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	for _, c := range chunks {
		if err := a.Vector.Delete(ctx, c.Chunk.ID); err != nil {
			writeError(w, model.NewProgrammerError(err))
			return
		}
	}
	if err := a.rebuildLexical(ctx); err != nil {
		writeError(w, model.NewProgrammerError(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the error taxonomy (internal/model/errors.go) onto HTTP
// status codes per §7: InvalidConfig/KnownError are user-visible (501,
// literal message); everything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	var invalidConfig *model.InvalidConfigError
	var known *model.KnownError
	switch {
	case errors.As(err, &invalidConfig):
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": invalidConfig.Message})
	case errors.As(err, &known):
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": known.Message})
	default:
		slog.Error("httpapi: internal error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
