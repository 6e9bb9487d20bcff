// Package extract reads AcroForm fields and section headers out of fillable PDF forms.
package extract

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/a3tai/form-field-mapper/internal/fields"
)

// Result is the outcome of extracting one form
type Result struct {
	File     string                  `json:"file,omitempty"`
	Pages    int                     `json:"pages"`
	Records  []fields.RawFieldRecord `json:"records"`
	Sections []Section               `json:"sections,omitempty"`
}

// Extractor reads raw field records from PDFs
type Extractor struct {
	maxFileSize int64
	logger      *slog.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithMaxFileSize rejects files larger than size bytes
func WithMaxFileSize(size int64) Option {
	return func(e *Extractor) {
		e.maxFileSize = size
	}
}

// WithLogger sets the extractor logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an extractor
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFile reads the fields of a PDF file and annotates them with the section headers
// found in its page text
func (e *Extractor) ExtractFile(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}
	if e.maxFileSize > 0 && info.Size() > e.maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), e.maxFileSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF file: %w", err)
	}
	defer file.Close()

	res, err := e.ExtractReader(file)
	if err != nil {
		return nil, err
	}
	res.File = filepath.Base(path)

	sections, err := readSections(path)
	if err != nil {
		e.logger.Warn("section headers unavailable", "file", res.File, "error", err)
	}
	res.Sections = sections
	res.Records = annotate(res.Records, sections)

	e.logger.Info("form extracted",
		"file", res.File,
		"pages", res.Pages,
		"fields", len(res.Records),
		"sections", len(sections))
	return res, nil
}

// ExtractReader reads the fields of a PDF. Records carry structural name parts but no
// section headers, which need the page text.
func (e *Extractor) ExtractReader(rs io.ReadSeeker) (*Result, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(rs, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF context: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to ensure page count: %w", err)
	}

	w := newWalker(ctx)
	for i := 1; i <= ctx.PageCount; i++ {
		d, ref, _, err := ctx.PageDict(i, false)
		if err != nil || d == nil {
			continue
		}
		w.indexPage(i, ref, d)
	}

	root, err := ctx.Catalog()
	if err != nil {
		return nil, fmt.Errorf("failed to get catalog: %w", err)
	}
	res := &Result{Pages: ctx.PageCount, Records: []fields.RawFieldRecord{}}

	acroObj, found := root.Find("AcroForm")
	if !found {
		return res, nil
	}
	acroForm, ok := w.dict(acroObj)
	if !ok {
		return res, nil
	}
	if err := w.walkFields(acroForm); err != nil {
		return nil, err
	}
	merged := mergeRepeats(w.records)
	if len(merged) < len(w.records) {
		e.logger.Debug("repeated fields merged", "widgets", len(w.records), "fields", len(merged))
	}
	res.Records = annotate(merged, nil)
	return res, nil
}

func readSections(path string) ([]Section, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []Section
	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		found = append(found, FindSections(pageNum, text)...)
	}
	return mergeSections(found), nil
}

// FormTypeFromFile guesses the form type from a file name such as "i-485.pdf"
func FormTypeFromFile(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	base = strings.ToLower(base)
	if i := strings.IndexAny(base, "_ "); i > 0 {
		base = base[:i]
	}
	return strings.ReplaceAll(base, "-", "")
}
