// Package ingest extracts plain text from the document formats the
// workflow accepts: PDF and DOCX binaries plus markdown and plain text.
// It feeds two consumers: the engine's upload decoding and the corpus
// loader that backs semantic search.
package ingest

import (
	"fmt"
	"strings"
)

// Extract converts a raw document of the given kind to plain text. kind
// is a lowercase format name ("pdf", "docx", "md", "txt"); unknown kinds
// pass the bytes through as text. The signature matches
// loom.UploadDecoder so it can be handed to the engine directly.
func Extract(kind string, content []byte) (string, error) {
	switch strings.ToLower(kind) {
	case "pdf":
		return extractPDF(content)
	case "docx":
		return extractDOCX(content)
	default:
		return string(content), nil
	}
}

// kindFromExtension maps a file extension (without the dot) to the
// Extract kind, or "" when the format is not ingestible.
func kindFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "pdf":
		return "pdf"
	case "docx":
		return "docx"
	case "md", "markdown":
		return "md"
	case "txt":
		return "txt"
	default:
		return ""
	}
}

func errEmpty(kind string) error {
	return fmt.Errorf("empty %s content", kind)
}
