// Package source extracts TTS input rows from the three supported content
// sources and splits them into synthesis segments.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// Kind is the content source of a job.
type Kind string

const (
	KindText  Kind = "text"  // inline text, one logical row
	KindTxt   Kind = "txt"   // line-delimited file, one row per non-empty line
	KindExcel Kind = "excel" // first column of the first sheet, one row per cell
)

// ValidKind reports whether k is a supported source kind.
func ValidKind(k Kind) bool {
	return k == KindText || k == KindTxt || k == KindExcel
}

// Content is the normalized extraction result.
type Content struct {
	Rows           []string
	CharacterCount int // total runes across rows
}

// RowCount returns the number of extracted rows.
func (c Content) RowCount() int { return len(c.Rows) }

var errNoContent = errors.New("no usable content in input")

// FromText wraps inline text as a single row.
func FromText(text string) (Content, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Content{}, errNoContent
	}
	return Content{Rows: []string{text}, CharacterCount: utf8.RuneCountInString(text)}, nil
}

// FromTxt reads a line-delimited file; each non-empty line becomes a row.
func FromTxt(r io.Reader) (Content, error) {
	var c Content
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.Rows = append(c.Rows, line)
		c.CharacterCount += utf8.RuneCountInString(line)
	}
	if err := sc.Err(); err != nil {
		return Content{}, fmt.Errorf("read txt: %w", err)
	}
	if len(c.Rows) == 0 {
		return Content{}, errNoContent
	}
	return c, nil
}

// FromExcel reads column A of the first sheet; each non-empty cell becomes a
// row. Other columns are ignored.
func FromExcel(r io.Reader) (Content, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Content{}, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Content{}, errNoContent
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Content{}, fmt.Errorf("read spreadsheet: %w", err)
	}

	var c Content
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell := strings.TrimSpace(row[0])
		if cell == "" {
			continue
		}
		c.Rows = append(c.Rows, cell)
		c.CharacterCount += utf8.RuneCountInString(cell)
	}
	if len(c.Rows) == 0 {
		return Content{}, errNoContent
	}
	return c, nil
}

// Segment splits a row into chunks of at most size runes, breaking on the
// last whitespace inside the window when one exists. size must be positive.
func Segment(text string, size int) []string {
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	var segments []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= size {
			segments = append(segments, strings.TrimSpace(string(runes)))
			break
		}
		cut := size
		for i := size; i > 0; i-- {
			if isSpace(runes[i-1]) {
				cut = i
				break
			}
		}
		seg := strings.TrimSpace(string(runes[:cut]))
		if seg != "" {
			segments = append(segments, seg)
		}
		runes = runes[cut:]
	}
	return segments
}

// SegmentAll segments every row in order.
func SegmentAll(rows []string, size int) []string {
	var out []string
	for _, row := range rows {
		out = append(out, Segment(row, size)...)
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
