// Package evidence turns a query's raw captures into shareable forms: the
// registry's results table as markdown for card comments, and the page
// screenshot wrapped in a PDF for archiving.
package evidence

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Renderer converts registry markup. Safe for concurrent use.
type Renderer struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewRenderer builds a Renderer with table support.
func NewRenderer() *Renderer {
	return &Renderer{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// TableMarkdown sanitises the results table (the registry page carries
// scripts and inline handlers) and renders it as a markdown table.
// Empty input gives empty output.
func (r *Renderer) TableMarkdown(tableHTML string) (string, error) {
	if strings.TrimSpace(tableHTML) == "" {
		return "", nil
	}
	clean := r.policy.Sanitize(tableHTML)
	out, err := r.md.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("evidence: markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// PDF writes a one-page PDF holding the PNG screenshot.
func PDF(w io.Writer, png []byte) error {
	if len(png) == 0 {
		return fmt.Errorf("evidence: empty screenshot")
	}
	conf := model.NewDefaultConfiguration()
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, w, []io.Reader{bytes.NewReader(png)}, imp, conf); err != nil {
		return fmt.Errorf("evidence: pdf: %w", err)
	}
	return nil
}

// PDFBytes is PDF into memory.
func PDFBytes(png []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := PDF(&buf, png); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
