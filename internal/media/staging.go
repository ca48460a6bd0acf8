package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"vidtube-users/internal/apperr"
	"vidtube-users/internal/observability"
)

const (
	stagedPrefix      = "upload-"
	maxFormValueBytes = 16 << 10
)

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,10}$`)

// Stager writes multipart file parts into a local staging directory.
type Stager struct {
	dir      string
	maxBytes int64
	logger   *observability.Logger
}

func NewStager(dir string, maxBytes int64, logger *observability.Logger) (*Stager, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Stager{dir: dir, maxBytes: maxBytes, logger: logger}, nil
}

func (s *Stager) Dir() string { return s.dir }

// Staged holds the result of one multipart request. Callers must defer
// Cleanup.
type Staged struct {
	Values url.Values
	files  map[string]string
	logger *observability.Logger
}

// Path returns the staged local path for a file field or "".
func (s *Staged) Path(field string) string {
	if s == nil {
		return ""
	}
	return s.files[field]
}

func (s *Staged) Cleanup() {
	if s == nil {
		return
	}
	for field, p := range s.files {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("staged_file_remove_failed", map[string]any{"field": field, "path": p, "error": err})
		}
	}
}

// Stage reads a multipart body. File parts named in fileFields are written to
// disk; other file parts are drained and dropped. Empty files count as absent.
func (s *Stager) Stage(w http.ResponseWriter, r *http.Request, fileFields ...string) (*Staged, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.Validation("invalid multipart form")
	}

	wanted := make(map[string]bool, len(fileFields))
	for _, f := range fileFields {
		wanted[f] = true
	}

	staged := &Staged{Values: url.Values{}, files: map[string]string{}, logger: s.logger}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			staged.Cleanup()
			return nil, uploadReadError(err)
		}

		name := part.FormName()
		switch {
		case part.FileName() == "":
			value, err := io.ReadAll(io.LimitReader(part, maxFormValueBytes+1))
			if err != nil {
				staged.Cleanup()
				return nil, uploadReadError(err)
			}
			if len(value) > maxFormValueBytes {
				staged.Cleanup()
				return nil, apperr.Validation(fmt.Sprintf("field %s is too large", name))
			}
			staged.Values.Add(name, string(value))
		case wanted[name] && staged.files[name] == "":
			p, err := s.writePart(part)
			if err != nil {
				staged.Cleanup()
				return nil, err
			}
			if p != "" {
				staged.files[name] = p
			}
		default:
			if _, err := io.Copy(io.Discard, part); err != nil {
				staged.Cleanup()
				return nil, uploadReadError(err)
			}
		}
		_ = part.Close()
	}

	return staged, nil
}

type filePart interface {
	io.Reader
	FileName() string
}

func (s *Stager) writePart(part filePart) (string, error) {
	ext := filepath.Ext(part.FileName())
	if !extPattern.MatchString(ext) {
		ext = ""
	}

	file, err := os.CreateTemp(s.dir, stagedPrefix+"*"+strings.ToLower(ext))
	if err != nil {
		return "", apperr.Internal("failed to stage upload", err)
	}

	written, copyErr := io.Copy(file, part)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil || written == 0 {
		_ = os.Remove(file.Name())
		switch {
		case copyErr != nil:
			return "", uploadReadError(copyErr)
		case closeErr != nil:
			return "", apperr.Internal("failed to stage upload", closeErr)
		default:
			return "", nil
		}
	}
	return file.Name(), nil
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.Validation("upload is too large")
	}
	return &apperr.Error{Kind: apperr.KindValidation, Message: "invalid multipart form", Err: err}
}

type SweepResult struct {
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// Sweep removes staged files last modified before now minus retention. It
// covers files left behind when the process died between staging and upload.
func (s *Stager) Sweep(ctx context.Context, retention time.Duration, now time.Time) (SweepResult, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return SweepResult{}, fmt.Errorf("read staging dir: %w", err)
	}

	cutoff := now.Add(-retention)
	var result SweepResult
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), stagedPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			result.Failed++
			s.logger.Warn("staged_file_sweep_failed", map[string]any{"name": entry.Name(), "error": err})
			continue
		}
		result.Removed++
	}
	return result, nil
}
