package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// maxDocxEntrySize caps the decompressed size of word/document.xml to
// keep a hostile zip from exhausting memory (100 MB).
const maxDocxEntrySize = 100 << 20

// extractDOCX streams the OOXML body of a DOCX file and returns its text.
// Paragraphs are separated by blank lines. Table rows after the first are
// flattened to "Header: Value" pairs using the first row as headers, which
// keeps tabular documents searchable as prose.
func extractDOCX(content []byte) (string, error) {
	if len(content) == 0 {
		return "", errEmpty("docx")
	}
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	data, err := docxDocumentXML(zr)
	if err != nil {
		return "", err
	}
	return docxText(data)
}

func docxDocumentXML(zr *zip.Reader) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxDocxEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		if len(data) > maxDocxEntrySize {
			return nil, fmt.Errorf("document.xml exceeds %d byte limit", maxDocxEntrySize)
		}
		return data, nil
	}
	return nil, fmt.Errorf("missing word/document.xml")
}

// docxScan tracks the streaming XML decoder state while walking the
// document body.
type docxScan struct {
	out strings.Builder

	inParagraph bool
	inRun       bool
	paragraph   strings.Builder

	inTable  bool
	inRow    bool
	headers  []string
	rowIndex int
	cells    []string
	cell     strings.Builder
}

func docxText(data []byte) (string, error) {
	s := &docxScan{}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			s.start(t)
		case xml.EndElement:
			s.end(t)
		case xml.CharData:
			s.chars(t)
		}
	}
	return strings.TrimSpace(s.out.String()), nil
}

func (s *docxScan) start(t xml.StartElement) {
	switch t.Name.Local {
	case "p":
		s.inParagraph = true
		s.paragraph.Reset()
	case "r":
		s.inRun = true
	case "tbl":
		s.inTable = true
		s.headers = nil
		s.rowIndex = 0
	case "tr":
		s.inRow = true
		s.cells = nil
	case "tc":
		s.cell.Reset()
	}
}

func (s *docxScan) end(t xml.EndElement) {
	switch t.Name.Local {
	case "r":
		s.inRun = false
	case "tc":
		s.cells = append(s.cells, strings.TrimSpace(s.cell.String()))
	case "tr":
		s.inRow = false
		if !s.inTable {
			return
		}
		if s.rowIndex == 0 {
			s.headers = append([]string(nil), s.cells...)
		} else {
			s.emitRow()
		}
		s.rowIndex++
	case "tbl":
		s.inTable = false
	case "p":
		s.endParagraph()
	}
}

func (s *docxScan) chars(data xml.CharData) {
	switch {
	case s.inTable && s.inRow:
		s.cell.Write(data)
	case s.inParagraph && s.inRun:
		s.paragraph.Write(data)
	}
}

func (s *docxScan) endParagraph() {
	s.inParagraph = false
	if s.inTable {
		return
	}
	text := strings.TrimSpace(s.paragraph.String())
	if text == "" {
		return
	}
	s.emit(text)
}

func (s *docxScan) emitRow() {
	var fields []string
	for i, val := range s.cells {
		if val == "" {
			continue
		}
		if i < len(s.headers) && s.headers[i] != "" {
			fields = append(fields, s.headers[i]+": "+val)
		} else {
			fields = append(fields, val)
		}
	}
	if len(fields) > 0 {
		s.emit(strings.Join(fields, ", "))
	}
}

func (s *docxScan) emit(line string) {
	if s.out.Len() > 0 {
		s.out.WriteString("\n\n")
	}
	s.out.WriteString(line)
}
