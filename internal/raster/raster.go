// Package raster wraps PDF page rasterization. It turns an uploaded
// document into an ordered sequence of page images suitable for model
// requests, and probes basic document information.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"paper-twinview/internal/logger"
)

// ErrorCode distinguishes the two rasterizer failure classes.
type ErrorCode string

const (
	// ErrFileUnreadable means the file is missing, corrupt, or not a PDF.
	ErrFileUnreadable ErrorCode = "FILE_UNREADABLE"
	// ErrRenderFailed means a structurally valid page could not be rendered.
	ErrRenderFailed ErrorCode = "RENDER_FAILED"
)

// RenderError is the single error type surfaced by this package.
type RenderError struct {
	Code    ErrorCode
	Message string
	Page    int
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s (page %d)", e.Message, e.Page)
	}
	return e.Message
}

func (e *RenderError) Unwrap() error { return e.Cause }

// NewRenderError creates a RenderError with the given code and message.
func NewRenderError(code ErrorCode, message string, page int, cause error) *RenderError {
	return &RenderError{Code: code, Message: message, Page: page, Cause: cause}
}

// PageImage is one rendered page. PageIndex is 1-based.
type PageImage struct {
	PageIndex int    `json:"page_index"`
	JPEG      []byte `json:"-"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// DocumentInfo describes a loaded PDF before any processing.
type DocumentInfo struct {
	FilePath  string `json:"file_path"`
	FileName  string `json:"file_name"`
	PageCount int    `json:"page_count"`
	FileSize  int64  `json:"file_size"`
	IsTextPDF bool   `json:"is_text_pdf"`
}

// Rasterizer renders PDF pages to JPEG images via pdftoppm at a fixed
// density. Rendered pages are cached per document so progressive
// batches and the viewer do not re-run pdftoppm for pages already
// rendered.
type Rasterizer struct {
	dpi     int
	workDir string

	mu        sync.Mutex
	tempDir   string
	cachePath string
	cache     map[int]PageImage
}

// NewRasterizer creates a Rasterizer rendering at the given density.
// workDir is the base for the scratch directory; empty means the
// system temp dir.
func NewRasterizer(dpi int, workDir string) *Rasterizer {
	if dpi <= 0 {
		dpi = 144
	}
	return &Rasterizer{dpi: dpi, workDir: workDir, cache: make(map[int]PageImage)}
}

// Probe validates the file and returns basic document information.
// Structural validation failures surface as ErrFileUnreadable.
func (r *Rasterizer) Probe(pdfPath string) (*DocumentInfo, error) {
	fileInfo, err := os.Stat(pdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewRenderError(ErrFileUnreadable, "file does not exist", 0, err)
		}
		return nil, NewRenderError(ErrFileUnreadable, "cannot access file", 0, err)
	}
	if fileInfo.IsDir() {
		return nil, NewRenderError(ErrFileUnreadable, "path is a directory, not a file", 0, nil)
	}

	if err := api.ValidateFile(pdfPath, nil); err != nil {
		return nil, NewRenderError(ErrFileUnreadable, "not a readable PDF", 0, err)
	}

	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return nil, NewRenderError(ErrFileUnreadable, "cannot open PDF", 0, err)
	}
	defer f.Close()

	pageCount := reader.NumPage()

	return &DocumentInfo{
		FilePath:  pdfPath,
		FileName:  filepath.Base(pdfPath),
		PageCount: pageCount,
		FileSize:  fileInfo.Size(),
		IsTextPDF: hasExtractableText(reader),
	}, nil
}

// hasExtractableText samples the first pages for non-whitespace text.
// Scanned documents still work here since pages go to a vision model;
// the flag only informs the frontend.
func hasExtractableText(reader *pdf.Reader) bool {
	maxPagesToCheck := 3
	if reader.NumPage() < maxPagesToCheck {
		maxPagesToCheck = reader.NumPage()
	}

	total := 0
	for pageNum := 1; pageNum <= maxPagesToCheck; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		for _, ch := range content {
			if !unicode.IsSpace(ch) {
				total++
			}
		}
		if total > 50 {
			return true
		}
	}
	return total > 0
}

// RenderPages rasterizes pages 1..min(maxPages, pageCount) in ascending
// order. maxPages caps the work of one call; pages are 1-based.
func (r *Rasterizer) RenderPages(ctx context.Context, pdfPath string, maxPages int) ([]PageImage, error) {
	info, err := r.Probe(pdfPath)
	if err != nil {
		return nil, err
	}

	end := info.PageCount
	if maxPages > 0 && maxPages < end {
		end = maxPages
	}
	if end < 1 {
		return nil, NewRenderError(ErrRenderFailed, "document has no pages", 0, nil)
	}

	logger.Debug("rendering pages",
		logger.String("file", info.FileName),
		logger.Int("pages", end),
		logger.Int("dpi", r.dpi))

	pages := make([]PageImage, 0, end)
	for pageNum := 1; pageNum <= end; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, NewRenderError(ErrRenderFailed, "render cancelled", pageNum, ctx.Err())
		default:
		}

		img, err := r.RenderPage(pdfPath, pageNum)
		if err != nil {
			return nil, err
		}
		pages = append(pages, img)
	}

	return pages, nil
}

// RenderPage renders a single 1-based page, consulting the per-document
// cache first. Switching documents drops the cache.
func (r *Rasterizer) RenderPage(pdfPath string, pageNum int) (PageImage, error) {
	r.mu.Lock()
	if r.cachePath != pdfPath {
		r.cachePath = pdfPath
		r.cache = make(map[int]PageImage)
	}
	if img, ok := r.cache[pageNum]; ok {
		r.mu.Unlock()
		return img, nil
	}
	r.mu.Unlock()

	img, err := r.renderPage(pdfPath, pageNum)
	if err != nil {
		return PageImage{}, err
	}

	r.mu.Lock()
	if r.cachePath == pdfPath {
		r.cache[pageNum] = img
	}
	r.mu.Unlock()
	return img, nil
}

// renderPage shells out to pdftoppm for a single page.
func (r *Rasterizer) renderPage(pdfPath string, pageNum int) (PageImage, error) {
	r.mu.Lock()
	if r.tempDir == "" {
		if r.workDir != "" {
			if err := os.MkdirAll(r.workDir, 0755); err != nil {
				r.mu.Unlock()
				return PageImage{}, NewRenderError(ErrRenderFailed, "failed to create work dir", pageNum, err)
			}
		}
		dir, err := os.MkdirTemp(r.workDir, "twinview_pages_*")
		if err != nil {
			r.mu.Unlock()
			return PageImage{}, NewRenderError(ErrRenderFailed, "failed to create temp dir", pageNum, err)
		}
		r.tempDir = dir
	}
	tempDir := r.tempDir
	r.mu.Unlock()

	outputPrefix := filepath.Join(tempDir, fmt.Sprintf("page_%d", pageNum))
	args := []string{
		"-f", fmt.Sprintf("%d", pageNum),
		"-l", fmt.Sprintf("%d", pageNum),
		"-jpeg",
		"-r", fmt.Sprintf("%d", r.dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	}

	cmd := exec.Command("pdftoppm", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return PageImage{}, NewRenderError(ErrRenderFailed,
			fmt.Sprintf("pdftoppm failed: %s", string(output)), pageNum, err)
	}

	imgPath := outputPrefix + ".jpg"
	data, err := os.ReadFile(imgPath)
	if err != nil {
		return PageImage{}, NewRenderError(ErrRenderFailed, "failed to read rendered page", pageNum, err)
	}
	os.Remove(imgPath)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return PageImage{}, NewRenderError(ErrRenderFailed, "rendered page is not a valid image", pageNum, err)
	}

	return PageImage{
		PageIndex: pageNum,
		JPEG:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}, nil
}

// Cleanup removes the temporary render directory and drops the cache.
func (r *Rasterizer) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tempDir != "" {
		os.RemoveAll(r.tempDir)
		r.tempDir = ""
	}
	r.cachePath = ""
	r.cache = make(map[int]PageImage)
}
