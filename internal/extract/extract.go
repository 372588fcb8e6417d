// Package extract acquires plain text from statement files so the rest of
// the engine only ever sees document text. PDF extraction goes through
// ledongthuc/pdf with row grouping, xlsx workbooks flatten to CSV-shaped
// rows via excelize, and CSV/text files pass through as-is. Scanned
// (image-only) PDFs are rejected rather than OCRed.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// minReadableRatio is the fraction of printable ASCII a page must carry
// before we trust the extraction. Binary garbage from a scanned PDF fails
// this check.
const minReadableRatio = 0.6

// FromFile reads a statement file and returns its text, dispatching on the
// file extension. Supported: .pdf, .xlsx, .csv, .txt.
func FromFile(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FromPDF(path)
	case ".xlsx":
		return FromXLSX(path)
	case ".csv", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return normalize(string(data)), nil
	default:
		return "", fmt.Errorf("unsupported file type %q (want .pdf, .xlsx, .csv or .txt)", filepath.Ext(path))
	}
}

// FromXLSX flattens every sheet of a workbook into comma-joined rows, one
// sheet after another, so generated parsers see the same tabular text an
// exported CSV would carry. Formatted cell values are used, not formulas.
func FromXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %q: %w", name, err)
		}
		var lines []string
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, ","), ", ")
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no populated sheets")
	}
	return normalize(strings.Join(sheets, "\n\n")), nil
}

// FromPDF extracts row-grouped text from a PDF. The underlying library
// panics on some malformed files, so the whole extraction runs under a
// recover.
func FromPDF(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PDF extraction panicked: %v", r)
		}
	}()

	f, r, openErr := pdf.Open(path)
	if openErr != nil {
		return "", fmt.Errorf("failed to open PDF: %w", openErr)
	}
	defer f.Close()

	numPages := r.NumPage()
	if numPages == 0 {
		return "", fmt.Errorf("PDF has no pages")
	}

	pages := extractByRow(r, numPages)
	if !isReadable(pages) {
		// Row extraction can come up empty on PDFs with unusual text
		// encodings; the flat reader sometimes still works.
		if plain := extractPlainText(r); isReadable([]string{plain}) {
			return normalize(plain), nil
		}
		return "", fmt.Errorf("PDF text is not readable (scanned or image-only document?)")
	}
	return normalize(strings.Join(pages, "\n\n")), nil
}

// extractByRow walks every page and joins row words left to right. Pages
// that fail individually are skipped, not fatal.
func extractByRow(r *pdf.Reader, numPages int) []string {
	var pages []string
	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			var parts []string
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			line := strings.TrimSpace(strings.Join(parts, " "))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			pages = append(pages, strings.Join(lines, "\n"))
		}
	}
	return pages
}

// extractPlainText uses the reader-level text stream as a fallback.
func extractPlainText(r *pdf.Reader) string {
	reader, err := r.GetPlainText()
	if err != nil {
		return ""
	}
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if readErr != nil {
			break
		}
	}
	return sb.String()
}

// isReadable reports whether the extracted pages look like text rather than
// binary noise.
func isReadable(pages []string) bool {
	var total, printable int
	for _, page := range pages {
		for _, r := range page {
			total++
			if r == '\n' || r == '\t' || (r >= 0x20 && r < 0x7f) {
				printable++
			}
		}
	}
	if total < 20 {
		return false
	}
	return float64(printable)/float64(total) >= minReadableRatio
}

// normalize strips carriage returns and trailing whitespace per line so the
// generated parsers see consistent input across platforms.
func normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")) + "\n"
}
