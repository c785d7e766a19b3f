package fileserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/HasheemYodhin/ys/internal/apperr"
	"github.com/HasheemYodhin/ys/internal/logger"
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные: разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

var (
	ErrBlockedType   = errors.New("file type not allowed")
	ErrMagicMismatch = errors.New("file content does not match type")
)

// UploadResponse: ответ после загрузки; поля совпадают с Attachment сообщения.
type UploadResponse struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Service сохраняет вложения на диск (gzip) и отдаёт их обратно.
// Файлы не удаляются при удалении сообщения.
type Service struct {
	UploadDir     string
	MaxUploadSize int64
	// BaseURL: префикс абсолютных ссылок; при пустом ссылки относительные.
	BaseURL string
}

// New создаёт сервис с заданным каталогом и лимитом размера (в байтах).
func New(uploadDir string, maxUploadSize int64, baseURL string) *Service {
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxUploadSize, BaseURL: strings.TrimRight(baseURL, "/")}
}

// Save пишет содержимое src под новым именем uuid+ext. declaredType: MIME от клиента,
// при отсутствии определяется по расширению.
func (s *Service) Save(ctx context.Context, filename, declaredType string, src io.Reader) (*UploadResponse, error) {
	// В ряде клиентов/прокси пробел в имени кодируется как "+".
	rawFilename := strings.ReplaceAll(filename, "+", " ")
	ext := strings.ToLower(filepath.Ext(rawFilename))
	if BlockedExt[ext] {
		return nil, ErrBlockedType
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(src, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return nil, ErrMagicMismatch
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	newName := uuid.New().String() + ext
	// Храним в сжатом виде (.gz)
	dstPath := filepath.Join(s.UploadDir, newName+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	cw := &countingWriter{w: gzip.NewWriter(dst)}
	err = writeAll(ctx, cw, head, src)
	if closeErr := cw.w.(*gzip.Writer).Close(); err == nil {
		err = closeErr
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dstPath)
		return nil, err
	}

	contentType := strings.TrimSpace(declaredType)
	if contentType == "" || contentType == "application/octet-stream" {
		if ct := contentTypeByExt(ext); ct != "" {
			contentType = ct
		} else {
			contentType = http.DetectContentType(head)
		}
	}

	displayName := safeFilename(filepath.Base(rawFilename))
	if displayName == "" || displayName == "." {
		displayName = newName
	}

	return &UploadResponse{
		URL:  s.BaseURL + "/api/files/" + newName,
		Name: displayName,
		Type: contentType,
		Size: cw.n,
	}, nil
}

func writeAll(ctx context.Context, dst io.Writer, head []byte, src io.Reader) error {
	if _, err := dst.Write(head); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return copyWithContext(ctx, dst, src)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Upload обрабатывает POST multipart/form-data с полем "file".
func (s *Service) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, apperr.Validation("file too large"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation("file is required"))
		return
	}
	defer file.Close()

	resp, err := s.Save(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, ErrBlockedType), errors.Is(err, ErrMagicMismatch):
		writeError(w, apperr.Validation(err.Error()))
		return
	case err != nil:
		if r.Context().Err() != nil {
			return
		}
		logger.Errorf("fileserver upload: %v", err)
		writeError(w, apperr.Internal("failed to save file", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".mp4", ".mov":
		return len(head) >= 8 && bytes.Equal(head[4:8], []byte("ftyp"))
	case ".webm":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
	case ".ogg":
		return len(head) >= 4 && bytes.Equal(head[:4], []byte("OggS"))
	case ".docx", ".xlsx", ".zip":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	}
	return true
}

// Serve отдаёт файл по имени (разархивирует при отдаче); query name=: имя для Content-Disposition.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, filename string) {
	filename = filepath.Base(filename)
	if filename == "." || filename == "/" {
		writeError(w, apperr.NotFound("file not found"))
		return
	}
	ext := filepath.Ext(filename)
	if ct := contentTypeByExt(ext); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if origName := strings.TrimSpace(strings.ReplaceAll(r.URL.Query().Get("name"), "+", " ")); origName != "" {
		if safe := safeFilename(origName); safe != "" {
			w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(safe))
		}
	}

	// Сначала сжатый .gz, иначе: обычный файл
	if f, err := os.Open(filepath.Join(s.UploadDir, filename+".gz")); err == nil {
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			writeError(w, apperr.Internal("failed to read file", err))
			return
		}
		defer gz.Close()
		w.WriteHeader(http.StatusOK)
		io.Copy(w, gz)
		return
	}
	if f, err := os.Open(filepath.Join(s.UploadDir, filename)); err == nil {
		defer f.Close()
		w.WriteHeader(http.StatusOK)
		io.Copy(w, f)
		return
	}
	writeError(w, apperr.NotFound("file not found"))
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".ogg":
		return "audio/ogg"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return mime.TypeByExtension(ext)
}

// safeFilename оставляет имя безопасным для Content-Disposition (без управляющих символов и кавычек).
// UTF-8 сохраняется.
func safeFilename(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\r', '\n', '"', '\\', '/', '\x00':
			continue
		}
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("fileserver writeJSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, e *apperr.Error) {
	writeJSON(w, e.Status, e)
}
