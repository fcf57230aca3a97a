// Package docfile declares the document-extraction collaborators the
// parsers consume. PDF text/table extraction and PPTX chart reading
// are external concerns; parsers only see these interfaces.
package docfile

import "context"

// TextExtractor yields the text of a PDF, one string per page.
type TextExtractor interface {
	Pages(ctx context.Context, path string) ([]string, error)
}

// Table is a rectangular text table as extracted from a PDF page.
type Table struct {
	Page int
	Rows [][]string
}

func (t Table) ColumnCount() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0])
}

// TableExtractor yields lattice tables from a PDF.
type TableExtractor interface {
	Tables(ctx context.Context, path string) ([]Table, error)
}

// Chart is one chart from a slide deck: named series over categories.
type Chart struct {
	Title      string
	Categories []string
	Series     map[string][]float64
}

// ChartExtractor yields the embedded charts of a PPTX deck in slide
// order.
type ChartExtractor interface {
	Charts(ctx context.Context, path string) ([]Chart, error)
}
