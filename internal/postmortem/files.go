package postmortem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// DownloadPrefix is the HTTP route artifacts are served from.
const DownloadPrefix = "/api/v1/postmortems/"

// Artifact formats written by FileRenderer.
const (
	FormatJSON = "json"
	FormatPDF  = "pdf"
)

// FileRenderer writes JSON and PDF renditions into an export directory.
type FileRenderer struct {
	dir string
	pdf *PDFWriter
}

// NewFileRenderer prepares dir for writing.
func NewFileRenderer(dir string) (*FileRenderer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("postmortem export dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &FileRenderer{dir: dir, pdf: NewPDFWriter()}, nil
}

// Dir returns the export directory.
func (r *FileRenderer) Dir() string { return r.dir }

// Render writes <base>.json and <base>.pdf.
func (r *FileRenderer) Render(ctx context.Context, baseName string, pm models.Postmortem) ([]models.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := json.MarshalIndent(pm, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal postmortem: %w", err)
	}
	jsonArtifact, err := r.write(baseName, FormatJSON, body)
	if err != nil {
		return nil, err
	}

	doc, err := r.pdf.Write(pm)
	if err != nil {
		return nil, err
	}
	pdfArtifact, err := r.write(baseName, FormatPDF, doc)
	if err != nil {
		return nil, err
	}

	return []models.Artifact{jsonArtifact, pdfArtifact}, nil
}

func (r *FileRenderer) write(baseName, format string, data []byte) (models.Artifact, error) {
	name := baseName + "." + format
	target := filepath.Join(r.dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return models.Artifact{}, fmt.Errorf("write %s: %w", name, err)
	}
	return models.Artifact{
		Format:   format,
		Path:     target,
		Download: DownloadPrefix + name,
	}, nil
}

// Open returns a previously rendered artifact by file name. Directory components are stripped.
func (r *FileRenderer) Open(filename string) (*os.File, string, error) {
	name := path.Base(filepath.ToSlash(strings.TrimSpace(filename)))
	if name == "" || name == "." || name == "/" || name == ".." {
		return nil, "", utils.NotFound("postmortem.Open", "postmortem not found")
	}

	target := filepath.Join(r.dir, name)
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return nil, "", utils.NotFound("postmortem.Open", "postmortem not found")
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, "", utils.NewAppError("postmortem.Open", "open postmortem", err)
	}
	return f, ContentType(name), nil
}

// ContentType maps an artifact name to its media type.
func ContentType(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "application/pdf"
	}
	return "application/json"
}
