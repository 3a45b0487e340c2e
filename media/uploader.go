package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"roomchat/models"
)

const (
	// UploadPath is the relay endpoint accepting multipart uploads.
	UploadPath = "/api/v1/uploads"
	// FormField carries the file content.
	FormField = "file"
	// NameField carries the upload reference.
	NameField = "name"
)

// ErrUpload is returned when the relay rejects or fails an upload.
var ErrUpload = errors.New("media: upload failed")

// Uploader stores image and audio files on the relay and returns the URL
// used as the message payload.
type Uploader struct {
	BaseURL string
	Token   string
	// TokenSource, when set, supplies the token for each upload instead of
	// Token.
	TokenSource func(ctx context.Context) (string, error)
	Client      *http.Client
	Now         func() time.Time
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Upload streams the file at path to the relay under a reference derived
// from userID, the current time and the file's base name.
func (u *Uploader) Upload(ctx context.Context, userID, path string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user ID is required")
	}

	token := u.Token
	if u.TokenSource != nil {
		fresh, err := u.TokenSource(ctx)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUpload, err)
		}
		token = fresh
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	now := time.Now
	if u.Now != nil {
		now = u.Now
	}
	reference := models.UploadReference(userID, path, now())

	body, contentType := streamMultipart(file, reference)
	defer body.Close()

	endpoint := strings.TrimRight(u.BaseURL, "/") + UploadPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	var decoded uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&decoded); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpload, err)
	}
	if resp.StatusCode != http.StatusOK {
		if decoded.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrUpload, decoded.Error)
		}
		return "", fmt.Errorf("%w: status %d", ErrUpload, resp.StatusCode)
	}
	if decoded.URL == "" {
		return "", fmt.Errorf("%w: empty url in response", ErrUpload)
	}
	return decoded.URL, nil
}

// streamMultipart encodes src into a multipart body without buffering the
// whole file in memory.
func streamMultipart(src io.Reader, reference string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(writer, src, reference)
		pw.CloseWithError(err)
	}()

	return pr, writer.FormDataContentType()
}

func writeMultipart(writer *multipart.Writer, src io.Reader, reference string) error {
	if err := writer.WriteField(NameField, reference); err != nil {
		return err
	}
	part, err := writer.CreateFormFile(FormField, reference)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return writer.Close()
}
