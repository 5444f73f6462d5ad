// Package extract turns documents on disk into plain text.
package extract

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/HerbHall/litdigest/internal/digest"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// Extractor returns the plain text of the document at path. Failures are
// digest extraction errors.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Func adapts a function to Extractor.
type Func func(ctx context.Context, path string) (string, error)

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// PDF extracts text page by page. A page that fails to decode is logged and
// skipped; the document fails only when no text at all is recovered.
type PDF struct {
	logger *zap.Logger
}

// NewPDF creates a PDF extractor.
func NewPDF(logger *zap.Logger) *PDF {
	return &PDF{logger: logger}
}

// Extract implements Extractor.
func (x *PDF) Extract(ctx context.Context, path string) (text string, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return "", digest.Extraction(path, "file not readable", statErr)
	}

	// The decoder panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = digest.Extraction(path, "malformed pdf", fmt.Errorf("%v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", digest.Extraction(path, "cannot open pdf", err)
	}
	defer f.Close()

	var b strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pageText, err := x.page(r, i)
		if err != nil {
			x.logger.Warn("skipping unreadable page",
				zap.String("path", path),
				zap.Int("page", i),
				zap.Error(err),
			)
			continue
		}
		if pageText != "" {
			b.WriteString(pageText)
			b.WriteByte('\n')
		}
	}

	text = b.String()
	if strings.TrimSpace(text) == "" {
		return "", digest.Extraction(path, "no text extracted", nil)
	}

	x.logger.Debug("extracted pdf text",
		zap.String("path", path),
		zap.Int("pages", pages),
		zap.Int("chars", len([]rune(text))),
	)
	return text, nil
}

func (x *PDF) page(r *pdf.Reader, i int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode page: %v", rec)
		}
	}()

	p := r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

// Scan returns every file under root whose extension is .pdf in any case,
// in lexical walk order.
func Scan(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return paths, nil
}
