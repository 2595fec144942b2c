package importer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const DefaultMaxUploadBytes int64 = 10 << 20

var DefaultExtensions = []string{".xlsx", ".xls"}

var (
	ErrExtension = errors.New("extension not allowed")
	ErrTooLarge  = errors.New("upload too large")
)

type Limits struct {
	MaxBytes   int64
	Extensions []string
}

func (l Limits) withDefaults() Limits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxUploadBytes
	}
	if len(l.Extensions) == 0 {
		l.Extensions = DefaultExtensions
	}
	return l
}

// CheckUpload enforces the file name extension and size limit before a
// workbook is parsed.
func CheckUpload(filename string, size int64, limits Limits) error {
	limits = limits.withDefaults()
	ext := strings.ToLower(filepath.Ext(filename))
	allowed := false
	for _, e := range limits.Extensions {
		if strings.EqualFold(e, ext) {
			allowed = true
			break
		}
	}
	if !allowed {
		return &Error{
			Kind:    ErrExtension,
			Message: fmt.Sprintf("Only Excel files (%s) are allowed.", strings.Join(limits.Extensions, ", ")),
		}
	}
	if size > limits.MaxBytes {
		return &Error{
			Kind:    ErrTooLarge,
			Message: fmt.Sprintf("File size cannot exceed %s.", humanSize(limits.MaxBytes)),
		}
	}
	return nil
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%dMB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%dKB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
