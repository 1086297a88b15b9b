// Package capture drives the extractor over raw page captures saved by the
// browsing collaborator.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/order-ledger/internal/pipeline"
)

// ErrNoPage signals that a year has no page at the requested index.
var ErrNoPage = errors.New("no such page")

// PageSource hands out raw pages one at a time. Page numbers start at 1.
type PageSource interface {
	Page(ctx context.Context, year, page int) (*pipeline.RawPage, error)
}

// DirSource reads captures laid out as <dir>/<year>/page-<NNN>.json.
type DirSource struct {
	dir string
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// PagePath returns where the capture for year/page is expected.
func (s *DirSource) PagePath(year, page int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d", year), fmt.Sprintf("page-%03d.json", page))
}

// Page reads and decodes one capture. A missing file is ErrNoPage.
func (s *DirSource) Page(ctx context.Context, year, page int) (*pipeline.RawPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.PagePath(year, page)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoPage
	}
	if err != nil {
		return nil, fmt.Errorf("Page: read %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw pipeline.RawPage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("Page: decode %s: %w", path, err)
	}
	if raw.Year == 0 {
		raw.Year = year
	}
	if raw.Page == 0 {
		raw.Page = page
	}
	return &raw, nil
}
