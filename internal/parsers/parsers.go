// Package parsers declares the external document-parser contract
// (§4.10): converting a connector-fetched binary blob (docx/pptx/pdf/
// Google Docs export, etc.) into plain text for chunking. No concrete
// format implementation ships; connectors that emit DocumentKind =
// document/FileKind = docx|pptx|... are expected to supply their own
// Parser, keeping format-specific dependencies out of the core module.
package parsers

import "context"

// Parser converts a binary document into plain text.
type Parser interface {
	// ToPlainText extracts the textual content of a document's raw bytes.
	ToPlainText(ctx context.Context, data []byte) (string, error)
}
