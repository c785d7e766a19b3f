package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/HasheemYodhin/ys/internal/fileserver"
)

type FileHandler struct {
	files *fileserver.Service
}

func NewFileHandler(files *fileserver.Service) *FileHandler {
	return &FileHandler{files: files}
}

// Upload: POST /api/chat/upload → {url, name, type, size}.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	h.files.Upload(w, r)
}

// Serve: GET /api/files/{filename}
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.files.Serve(w, r, chi.URLParam(r, "filename"))
}
