package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUploaderSendsMultipartWithReference(t *testing.T) {
	var (
		gotAuth    string
		gotName    string
		gotContent string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != UploadPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotName = r.FormValue(NameField)
		file, _, err := r.FormFile(FormField)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		raw, _ := io.ReadAll(file)
		gotContent = string(raw)

		_ = json.NewEncoder(w).Encode(map[string]string{"url": "http://relay/uploads/" + gotName})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	uploader := &Uploader{
		BaseURL: server.URL + "/",
		Token:   "token-1",
		Client:  server.Client(),
		Now:     func() time.Time { return time.UnixMilli(1700000000123) },
	}

	url, err := uploader.Upload(context.Background(), "user-1", path)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	const wantName = "user-1-1700000000123-photo.jpg"
	if gotName != wantName {
		t.Fatalf("unexpected upload reference %q", gotName)
	}
	if url != "http://relay/uploads/"+wantName {
		t.Fatalf("unexpected url %q", url)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("unexpected authorization header %q", gotAuth)
	}
	if gotContent != "jpeg-bytes" {
		t.Fatalf("unexpected uploaded content %q", gotContent)
	}
}

func TestUploaderSurfacesRelayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid token"})
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "clip.m4a")
	if err := os.WriteFile(path, []byte("audio"), 0o600); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	uploader := &Uploader{BaseURL: server.URL, Client: server.Client()}
	_, err := uploader.Upload(context.Background(), "user-1", path)
	if !errors.Is(err, ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}

	if _, err := uploader.Upload(context.Background(), "user-1", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := uploader.Upload(context.Background(), " ", path); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}
