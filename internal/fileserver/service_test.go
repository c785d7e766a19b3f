package fileserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

func TestSave_StoresCompressed(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, 1<<20, "https://hr.example.com/")
	content := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte("x"), 2000)...)

	resp, err := s.Save(context.Background(), "team photo.png", "", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "image/png", resp.Type)
	assert.Equal(t, "team photo.png", resp.Name)
	assert.Equal(t, int64(len(content)), resp.Size)
	assert.True(t, strings.HasPrefix(resp.URL, "https://hr.example.com/api/files/"))

	stored := strings.TrimPrefix(resp.URL, "https://hr.example.com/api/files/")
	_, err = os.Stat(filepath.Join(dir, stored+".gz"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.Serve(rec, httptest.NewRequest(http.MethodGet, "/api/files/"+stored+"?name=photo.png", nil), stored)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "photo.png")
}

func TestSave_Rejects(t *testing.T) {
	s := New(t.TempDir(), 1<<20, "")
	_, err := s.Save(context.Background(), "run.sh", "", strings.NewReader("#!/bin/sh"))
	assert.ErrorIs(t, err, ErrBlockedType)

	_, err = s.Save(context.Background(), "fake.png", "", strings.NewReader("not a png at all"))
	assert.ErrorIs(t, err, ErrMagicMismatch)
}

func TestServe_NotFound(t *testing.T) {
	s := New(t.TempDir(), 1<<20, "")
	rec := httptest.NewRecorder()
	s.Serve(rec, httptest.NewRequest(http.MethodGet, "/api/files/none.png", nil), "../none.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpload_Multipart(t *testing.T) {
	s := New(t.TempDir(), 1<<20, "")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "meeting at 10")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notes.txt", resp.Name)
	assert.True(t, strings.HasPrefix(resp.URL, "/api/files/"))
	assert.Equal(t, int64(13), resp.Size)
}

func TestUpload_MissingFile(t *testing.T) {
	s := New(t.TempDir(), 1<<20, "")
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
