package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	loom "github.com/nevindra/loom"
)

// LoadDir reads every ingestible file in dir (.txt, .md, .pdf, .docx) into
// corpus documents, in filename order. Markdown and text keep their raw
// content; PDF and DOCX are extracted. The document ID is "doc_" plus the
// filename without extension. Files that fail to read or extract, and
// files whose text comes out empty, are skipped with a warning. A missing
// directory yields an empty corpus.
func LoadDir(dir string, logger *slog.Logger) ([]loom.Document, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read documents dir: %w", err)
	}

	var docs []loom.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		kind := kindFromExtension(ext)
		if kind == "" {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping unreadable document", "file", name, "error", err)
			continue
		}
		content, err := Extract(kind, raw)
		if err != nil {
			logger.Warn("skipping document, extraction failed", "file", name, "error", err)
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		stem := strings.TrimSuffix(name, filepath.Ext(name))
		docs = append(docs, loom.Document{
			ID:      "doc_" + stem,
			Title:   DocumentTitle(content, name),
			Source:  name,
			Content: content,
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Source < docs[j].Source })
	return docs, nil
}

// DocumentTitle derives a display title: the first level-1 markdown
// heading in the content when there is one, otherwise the filename with
// underscores spaced out and title-cased.
func DocumentTitle(content, filename string) string {
	if h := firstHeading([]byte(content)); h != "" {
		return h
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return cases.Title(language.English).String(strings.ReplaceAll(stem, "_", " "))
}

// firstHeading parses the content as markdown and returns the text of the
// first H1, or "".
func firstHeading(source []byte) string {
	root := goldmark.New().Parser().Parse(gmtext.NewReader(source))
	var title string
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 1 {
			return ast.WalkContinue, nil
		}
		var b strings.Builder
		for i := 0; i < h.Lines().Len(); i++ {
			seg := h.Lines().At(i)
			b.Write(seg.Value(source))
		}
		title = strings.TrimSpace(b.String())
		return ast.WalkStop, nil
	})
	return title
}
