// Package store implements the relational store (C2): persistent metadata
// for source types, sources, documents and chunks, with cascade deletes and
// short-lived transactions. Grounded on the teacher's single-writer-SQLite
// connection pooling (internal/config.DBPool) and raw-SQL-with-cascade
// schema style (pkg/memory/session_service_sql.go in the teacher repo).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/corpussearch/internal/config"
	"github.com/kadirpekel/corpussearch/internal/model"
)

// Store is the single-writer relational store.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open connects to the store database and ensures its schema exists.
func Open(ctx context.Context, cfg config.DatabaseConfig, pool *config.DBPool) (*Store, error) {
	db, err := pool.Get(&cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s := &Store{db: db, dialect: cfg.Dialect()}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// ph rewrites a "?"-placeholder query for the active dialect (Postgres
// wants $1, $2, ...; SQLite and MySQL accept "?" as-is).
func (s *Store) ph(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) migrate(ctx context.Context) error {
	autoIncrement := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == "postgres" {
		autoIncrement = "SERIAL PRIMARY KEY"
	} else if s.dialect == "mysql" {
		autoIncrement = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS source_types (
			name TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			config_schema TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sources (
			id %s,
			type_name TEXT NOT NULL REFERENCES source_types(name),
			config_blob TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_indexed_at TIMESTAMP NOT NULL
		)`, autoIncrement),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			id %s,
			source_id BIGINT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			external_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			file_kind TEXT,
			title TEXT,
			author TEXT,
			author_image_url TEXT,
			location TEXT,
			url TEXT,
			timestamp TIMESTAMP,
			status TEXT,
			is_active BOOLEAN,
			parent_id BIGINT REFERENCES documents(id) ON DELETE CASCADE,
			UNIQUE(source_id, external_id)
		)`, autoIncrement),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id %s,
			document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL
		)`, autoIncrement),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// UpsertSourceType inserts or refreshes a connector class's declared schema.
// SourceType rows are inserted at process start and never deleted (§3).
func (s *Store) UpsertSourceType(ctx context.Context, st model.SourceType) error {
	schemaJSON, err := json.Marshal(st.ConfigSchema)
	if err != nil {
		return fmt.Errorf("marshal config schema: %w", err)
	}

	var q string
	switch s.dialect {
	case "postgres":
		q = `INSERT INTO source_types (name, display_name, config_schema) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name, config_schema = EXCLUDED.config_schema`
	case "mysql":
		q = `INSERT INTO source_types (name, display_name, config_schema) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), config_schema = VALUES(config_schema)`
	default:
		q = `INSERT INTO source_types (name, display_name, config_schema) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET display_name = excluded.display_name, config_schema = excluded.config_schema`
	}
	if s.dialect != "postgres" {
		q = s.ph(q)
	}
	_, err = s.db.ExecContext(ctx, q, st.Name, st.DisplayName, string(schemaJSON))
	return err
}

// LoadSourceTypes returns every registered SourceType.
func (s *Store) LoadSourceTypes(ctx context.Context) ([]model.SourceType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, display_name, config_schema FROM source_types`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SourceType
	for rows.Next() {
		var st model.SourceType
		var schemaJSON string
		if err := rows.Scan(&st.Name, &st.DisplayName, &schemaJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(schemaJSON), &st.ConfigSchema); err != nil {
			return nil, fmt.Errorf("unmarshal config schema for %s: %w", st.Name, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CreateSource inserts a new Source row. The caller (sourcemgr, C5) is
// responsible for calling validate_config first.
func (s *Store) CreateSource(ctx context.Context, typeName, configBlob string, now time.Time) (*model.Source, error) {
	q := s.ph(`INSERT INTO sources (type_name, config_blob, created_at, last_indexed_at) VALUES (?, ?, ?, ?)`)
	res, err := s.db.ExecContext(ctx, q, typeName, configBlob, now, model.ZeroTime)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Source{
		ID: id, TypeName: typeName, ConfigBlob: configBlob,
		CreatedAt: now, LastIndexedAt: model.ZeroTime,
	}, nil
}

// SourceWithType pairs a Source with its eagerly-loaded SourceType.
type SourceWithType struct {
	Source model.Source
	Type   model.SourceType
}

// LoadSources loads all Sources with their SourceType eagerly joined (§4.2).
func (s *Store) LoadSources(ctx context.Context) ([]SourceWithType, error) {
	q := `SELECT s.id, s.type_name, s.config_blob, s.created_at, s.last_indexed_at,
			t.name, t.display_name, t.config_schema
		FROM sources s JOIN source_types t ON s.type_name = t.name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceWithType
	for rows.Next() {
		var r SourceWithType
		var schemaJSON string
		if err := rows.Scan(&r.Source.ID, &r.Source.TypeName, &r.Source.ConfigBlob,
			&r.Source.CreatedAt, &r.Source.LastIndexedAt,
			&r.Type.Name, &r.Type.DisplayName, &schemaJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(schemaJSON), &r.Type.ConfigSchema); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateLastIndexedAt sets a Source's last_indexed_at to now.
func (s *Store) UpdateLastIndexedAt(ctx context.Context, sourceID int64, now time.Time) error {
	q := s.ph(`UPDATE sources SET last_indexed_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, now, sourceID)
	return err
}

// FindExistingDocumentIDs returns document ids matching (source_id,
// external_id) pairs already in the store, keyed by external_id, used by
// the indexer to detect re-indexed documents before inserting new copies.
func (s *Store) FindExistingDocumentIDs(ctx context.Context, sourceID int64, externalIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(externalIDs))
	if len(externalIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(externalIDs))
	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, sourceID)
	for i, id := range externalIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	q := s.ph(fmt.Sprintf(`SELECT external_id, id FROM documents WHERE source_id = ? AND external_id IN (%s)`,
		strings.Join(placeholders, ",")))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var extID string
		var id int64
		if err := rows.Scan(&extID, &id); err != nil {
			return nil, err
		}
		out[extID] = id
	}
	return out, rows.Err()
}

// DeleteDocument removes a Document by id, cascading to its Chunks and
// child Documents via ON DELETE CASCADE.
func (s *Store) DeleteDocument(ctx context.Context, documentID int64) error {
	q := s.ph(`DELETE FROM documents WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, q, documentID)
	return err
}

// ChunkIDsForDocument returns the chunk ids owned directly by a document
// and (recursively) by its children, used to remove stale index entries
// before re-inserting a replacement document.
func (s *Store) ChunkIDsForDocument(ctx context.Context, documentID int64) ([]int64, error) {
	q := s.ph(`
		WITH RECURSIVE doc_tree(id) AS (
			SELECT id FROM documents WHERE id = ?
			UNION ALL
			SELECT d.id FROM documents d JOIN doc_tree t ON d.parent_id = t.id
		)
		SELECT c.id FROM chunks c WHERE c.document_id IN (SELECT id FROM doc_tree)`)
	rows, err := s.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ChunkIDsForSource returns every chunk id owned (transitively) by a source,
// used by DeleteSource to remove index entries inside the same logical
// transaction as the cascading row delete (§4.2 invariant).
func (s *Store) ChunkIDsForSource(ctx context.Context, sourceID int64) ([]int64, error) {
	q := s.ph(`SELECT c.id FROM chunks c JOIN documents d ON c.document_id = d.id WHERE d.source_id = ?`)
	rows, err := s.db.QueryContext(ctx, q, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSource deletes a Source row (cascading to its Documents and
// Chunks) and, before committing, invokes removeFromIndexes with the set
// of chunk ids that cascade deleted — so index state and store state
// cannot diverge (§4.2). If removeFromIndexes errors, the delete is
// rolled back.
func (s *Store) DeleteSource(ctx context.Context, sourceID int64, removeFromIndexes func(ctx context.Context, chunkIDs []int64) error) error {
	chunkIDs, err := s.ChunkIDsForSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("collect chunk ids: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := s.ph(`DELETE FROM sources WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, q, sourceID); err != nil {
		return fmt.Errorf("delete source row: %w", err)
	}

	if removeFromIndexes != nil {
		if err := removeFromIndexes(ctx, chunkIDs); err != nil {
			return fmt.Errorf("remove from indexes: %w", err)
		}
	}

	return tx.Commit()
}

// InsertDocumentTree inserts a Document (with already-split Chunks) plus
// its children, in one transaction. Returns the new document id and the
// ids of every newly-inserted chunk (including children's).
func (s *Store) InsertDocumentTree(ctx context.Context, sourceID int64, doc *model.Document) (docID int64, chunkIDs []int64, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback()

	docID, chunkIDs, err = s.insertDocumentTx(ctx, tx, sourceID, nil, doc)
	if err != nil {
		return 0, nil, err
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}
	return docID, chunkIDs, nil
}

func (s *Store) insertDocumentTx(ctx context.Context, tx *sql.Tx, sourceID int64, parentID *int64, doc *model.Document) (int64, []int64, error) {
	var fileKind any
	if doc.FileKind != nil {
		fileKind = string(*doc.FileKind)
	}
	var status any
	if doc.Status != nil {
		status = *doc.Status
	}
	var isActive any
	if doc.IsActive != nil {
		isActive = *doc.IsActive
	}

	q := s.ph(`INSERT INTO documents
		(source_id, external_id, kind, file_kind, title, author, author_image_url, location, url, timestamp, status, is_active, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := tx.ExecContext(ctx, q,
		sourceID, doc.ExternalID, string(doc.Kind), fileKind, doc.Title, doc.Author, doc.AuthorImageURL,
		doc.Location, doc.URL, doc.Timestamp, status, isActive, parentID)
	if err != nil {
		return 0, nil, fmt.Errorf("insert document %s: %w", doc.ExternalID, err)
	}
	docID, err := res.LastInsertId()
	if err != nil {
		return 0, nil, err
	}

	var chunkIDs []int64
	for _, chunk := range doc.Chunks {
		cq := s.ph(`INSERT INTO chunks (document_id, content) VALUES (?, ?)`)
		cres, err := tx.ExecContext(ctx, cq, docID, chunk.Content)
		if err != nil {
			return 0, nil, fmt.Errorf("insert chunk: %w", err)
		}
		cid, err := cres.LastInsertId()
		if err != nil {
			return 0, nil, err
		}
		chunkIDs = append(chunkIDs, cid)
	}

	for _, child := range doc.Children {
		_, childChunkIDs, err := s.insertDocumentTx(ctx, tx, sourceID, &docID, child)
		if err != nil {
			return 0, nil, err
		}
		chunkIDs = append(chunkIDs, childChunkIDs...)
	}

	return docID, chunkIDs, nil
}

// ChunkRecord is a Chunk joined with the fields of its owning Document
// needed by the lexical index and the query pipeline.
type ChunkRecord struct {
	Chunk          model.Chunk
	DocumentID     int64
	SourceID       int64
	SourceTypeName string
	Title          string
	Author         string
	DocParentID    *int64
}

// AllChunks returns every chunk in the store joined with its owning
// document's metadata, used by the lexical index's full rebuild (§4.6).
func (s *Store) AllChunks(ctx context.Context) ([]ChunkRecord, error) {
	q := `SELECT c.id, c.document_id, c.content, d.source_id, d.title, d.author, d.parent_id, st.name
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		JOIN sources s ON d.source_id = s.id
		JOIN source_types st ON s.type_name = st.name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		var title, author sql.NullString
		var parentID sql.NullInt64
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Content,
			&r.SourceID, &title, &author, &parentID, &r.SourceTypeName); err != nil {
			return nil, err
		}
		r.DocumentID = r.Chunk.DocumentID
		r.Title = title.String
		r.Author = author.String
		if parentID.Valid {
			r.DocParentID = &parentID.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FetchChunksWithDocuments loads Chunks and their owning Documents for a
// set of chunk ids, used at query time to materialise recall candidates.
func (s *Store) FetchChunksWithDocuments(ctx context.Context, chunkIDs []int64) ([]ChunkRecord, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(chunkIDs))
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	q := s.ph(fmt.Sprintf(`SELECT c.id, c.document_id, c.content, d.source_id, d.title, d.author, d.parent_id, st.name
		FROM chunks c
		JOIN documents d ON c.document_id = d.id
		JOIN sources s ON d.source_id = s.id
		JOIN source_types st ON s.type_name = st.name
		WHERE c.id IN (%s)`, strings.Join(placeholders, ",")))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		var title, author sql.NullString
		var parentID sql.NullInt64
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.DocumentID, &r.Chunk.Content,
			&r.SourceID, &title, &author, &parentID, &r.SourceTypeName); err != nil {
			return nil, err
		}
		r.Title = title.String
		r.Author = author.String
		if parentID.Valid {
			r.DocParentID = &parentID.Int64
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadDocument loads a single Document's full record, used to fetch a
// parent document during search-result assembly (§4.9 stage 8).
func (s *Store) LoadDocument(ctx context.Context, documentID int64) (*model.Document, error) {
	q := s.ph(`SELECT id, source_id, external_id, kind, file_kind, title, author, author_image_url,
		location, url, timestamp, status, is_active, parent_id FROM documents WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, q, documentID)

	var d model.Document
	var fileKind, status sql.NullString
	var isActive sql.NullBool
	var parentID sql.NullInt64
	if err := row.Scan(&d.ID, &d.SourceID, &d.ExternalID, &d.Kind, &fileKind, &d.Title, &d.Author,
		&d.AuthorImageURL, &d.Location, &d.URL, &d.Timestamp, &status, &isActive, &parentID); err != nil {
		return nil, err
	}
	if fileKind.Valid {
		fk := model.FileKind(fileKind.String)
		d.FileKind = &fk
	}
	if status.Valid {
		d.Status = &status.String
	}
	if isActive.Valid {
		d.IsActive = &isActive.Bool
	}
	if parentID.Valid {
		d.ParentID = &parentID.Int64
	}
	return &d, nil
}

// DeleteAllDocuments wipes every Document (and, by cascade, every Chunk),
// used by the /clear-index operation (§6).
func (s *Store) DeleteAllDocuments(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return err
}
