// Package qrgen renders one sign-in QR code per student.
package qrgen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/GiraffeSchool/student-signin-system/internal/cloudinary"
	"github.com/GiraffeSchool/student-signin-system/internal/ledger"
	"github.com/GiraffeSchool/student-signin-system/internal/token"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 320

// Uploader stores a rendered image remotely.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, publicID string) (*cloudinary.UploadResult, error)
}

// File is one generated code.
type File struct {
	StudentID string
	Path      string
	URL       string
	// HostedURL is set when the image was uploaded.
	HostedURL string
}

// Summary counts a generation run.
type Summary struct {
	Generated int
	Skipped   int
	Failed    int
	Files     []File
}

// Generator writes QR images into OutDir.
type Generator struct {
	BaseURL  string
	OutDir   string
	Size     int
	Uploader Uploader
	Logger   *slog.Logger
}

// Run renders a code for every student with both an id and a name.
func (g *Generator) Run(ctx context.Context, students []ledger.Student) (Summary, error) {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := g.Size
	if size <= 0 {
		size = DefaultSize
	}
	if err := os.MkdirAll(g.OutDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create %s: %w", g.OutDir, err)
	}

	var sum Summary
	for _, s := range students {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if s.ID == "" || s.Name == "" {
			logger.Warn("student skipped: missing id or name", slog.String("student_id", s.ID), slog.String("roster", s.Table.Name))
			sum.Skipped++
			continue
		}

		f := File{StudentID: s.ID, URL: URL(g.BaseURL, token.Encode(s.ID))}
		png, err := qrcode.Encode(f.URL, qrcode.Medium, size)
		if err != nil {
			logger.Error("qr encode failed", slog.String("student_id", s.ID), slog.String("error", err.Error()))
			sum.Failed++
			continue
		}
		name := s.ID + "-" + SafeName(s.Name) + ".png"
		f.Path = filepath.Join(g.OutDir, name)
		if err := os.WriteFile(f.Path, png, 0o644); err != nil {
			return sum, fmt.Errorf("write %s: %w", f.Path, err)
		}

		if g.Uploader != nil {
			res, err := g.Uploader.Upload(ctx, png, name, s.ID)
			if err != nil {
				logger.Error("qr upload failed", slog.String("student_id", s.ID), slog.String("error", err.Error()))
			} else {
				f.HostedURL = res.SecureURL
			}
		}
		sum.Generated++
		sum.Files = append(sum.Files, f)
	}
	return sum, nil
}

// URL appends tok to base, adding "=" when base ends with a bare query key.
func URL(base, tok string) string {
	if !strings.HasSuffix(base, "=") {
		base += "="
	}
	return base + tok
}

// SafeName strips characters that are not allowed in file names.
func SafeName(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(`<>:"/\|?*`, r) {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
}
