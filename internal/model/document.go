// Package model defines the canonical records shared by every connector,
// the store, the queues and the indexer: SourceType, Source, Document,
// Chunk, and the two queue payload types.
package model

import "time"

// DocumentKind enumerates the normalised shapes a connector can emit.
type DocumentKind string

const (
	KindDocument    DocumentKind = "document"
	KindMessage     DocumentKind = "message"
	KindComment     DocumentKind = "comment"
	KindPerson      DocumentKind = "person"
	KindIssue       DocumentKind = "issue"
	KindPullRequest DocumentKind = "pull_request"
)

// FileKind is only meaningful for DocumentKind == KindDocument; connectors
// that don't distinguish file formats always leave it empty.
type FileKind string

const (
	FileKindGoogleDoc FileKind = "google_doc"
	FileKindDocx      FileKind = "docx"
	FileKindPptx      FileKind = "pptx"
	FileKindTxt       FileKind = "txt"
)

// InputKind is the HTML input widget a config field should render as.
type InputKind string

const (
	InputText     InputKind = "text"
	InputTextarea InputKind = "textarea"
	InputPassword InputKind = "password"
)

// ConfigField is one entry of a connector's declared config schema.
type ConfigField struct {
	Name        string    `json:"name"`
	InputKind   InputKind `json:"input_kind"`
	Label       string    `json:"label"`
	Placeholder string    `json:"placeholder"`
}

// Location is one selectable sub-partition a connector exposes for scoping.
type Location struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// SourceType is a registered connector kind, inserted once per discovered
// connector class at process start and never deleted.
type SourceType struct {
	Name         string
	DisplayName  string
	ConfigSchema []ConfigField
}

// ZeroTime is the sentinel used for a Source that has never been indexed,
// matching the original implementation's "before any config existed" epoch.
var ZeroTime = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Source is a configured connector instance.
type Source struct {
	ID            int64
	TypeName      string
	ConfigBlob    string
	CreatedAt     time.Time
	LastIndexedAt time.Time
}

// Document is a normalised record produced by a connector.
type Document struct {
	ID              int64
	SourceID        int64
	ExternalID      string
	Kind            DocumentKind
	FileKind        *FileKind
	Title           string
	Author          string
	AuthorImageURL  string
	Location        string
	URL             string
	Timestamp       time.Time
	Status          *string
	IsActive        *bool
	ParentID        *int64
	Children        []*Document
	Chunks          []*Chunk

	// Content is the raw normalised text emitted by the connector. It is
	// consumed by the indexer (C9) to produce Chunks and is not itself
	// persisted as a column.
	Content string
}

// Chunk is a bounded searchable text fragment derived from a Document.
type Chunk struct {
	ID         int64
	DocumentID int64
	Content    string
}

// TaskItem is a TaskQ payload: a named method call against a connector
// instance, replayed by a worker with bounded retries.
type TaskItem struct {
	SourceID          int64
	FunctionName      string
	Kwargs            map[string]string
	AttemptsRemaining int
	// AsOf is the source's last_indexed_at *before* this crawl run was
	// stamped to now; connectors filter against this, not the instance's
	// live value, so a run's first dispatch doesn't see its own stamp and
	// skip every pre-existing upstream document. Zero for a source's very
	// first crawl, which is intentional: nothing is filtered out.
	AsOf time.Time
}

// DefaultTaskAttempts is the retry budget assigned to a freshly enqueued task.
const DefaultTaskAttempts = 3

// IndexItem is an IndexQ payload: one Document (with its children already
// attached) awaiting chunking and index insertion.
type IndexItem struct {
	Document *Document
}
