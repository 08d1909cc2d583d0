// Package media uploads message attachments to the media store and returns
// their public URLs.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// ErrTooLarge is returned when a file exceeds the configured size limit.
var ErrTooLarge = errors.New("media: file too large")

// Kind groups the accepted MIME types.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
	KindAudio    Kind = "audio"
)

var allowedTypes = map[Kind][]string{
	KindImage: {"image/jpeg", "image/png", "image/gif", "image/webp"},
	KindVideo: {"video/mp4", "video/avi", "video/mov", "video/wmv"},
	KindDocument: {
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"text/plain",
	},
	KindAudio: {"audio/mpeg", "audio/wav", "audio/ogg", "audio/mp4"},
}

var allowed = func() map[string]Kind {
	m := make(map[string]Kind)
	for k, types := range allowedTypes {
		for _, t := range types {
			m[t] = k
		}
	}
	return m
}()

// Allowed classifies mimetype, ignoring parameters such as "; codecs=opus".
func Allowed(mimetype string) (Kind, bool) {
	k, ok := allowed[baseType(mimetype)]
	return k, ok
}

func baseType(mimetype string) string {
	mt, _, err := mime.ParseMediaType(mimetype)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimetype))
	}
	return mt
}

// Config mirrors the "upload" config section.
type Config struct {
	Endpoint    string
	APIKey      string
	Timeout     time.Duration
	MaxFileSize int64
	// MaxImageSide bounds the longest edge of uploaded JPEG and PNG images.
	// 0 disables downscaling.
	MaxImageSide int
}

// Metadata describes the file being uploaded.
type Metadata struct {
	Filename   string
	Mimetype   string
	Caption    string
	FileLength int64
}

// Result is the media store's description of an uploaded file.
type Result struct {
	URL           string `json:"url"`
	ThumbnailURL  string `json:"thumbnailUrl,omitempty"`
	FileID        string `json:"fileId,omitempty"`
	Filename      string `json:"filename,omitempty"`
	OriginalName  string `json:"originalName,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	OriginalSize  int64  `json:"originalSize"`
	OptimizedSize int64  `json:"optimizedSize,omitempty"`
	Message       string `json:"message,omitempty"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID           string `json:"id"`
		PublicURL    string `json:"publicUrl"`
		ThumbnailURL string `json:"thumbnailUrl"`
		Filename     string `json:"filename"`
		OriginalName string `json:"originalName"`
		MimeType     string `json:"mimeType"`
		Size         int64  `json:"size"`
	} `json:"data"`
}

// Uploader posts files as multipart form data. Safe for concurrent use.
type Uploader struct {
	cfg    Config
	client *http.Client
}

func NewUploader(cfg Config) *Uploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	return &Uploader{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Upload validates data against the allowed types and size limit, shrinks
// oversized images, and posts it to the media store.
func (u *Uploader) Upload(ctx context.Context, data []byte, meta Metadata) (*Result, error) {
	if u.cfg.Endpoint == "" {
		return nil, fmt.Errorf("media: upload endpoint not configured")
	}
	kind, ok := Allowed(meta.Mimetype)
	if !ok {
		return nil, fmt.Errorf("media: unsupported type %q", meta.Mimetype)
	}
	if int64(len(data)) > u.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, len(data), u.cfg.MaxFileSize)
	}
	original := meta.FileLength
	if original == 0 {
		original = int64(len(data))
	}

	if kind == KindImage && u.cfg.MaxImageSide > 0 {
		if shrunk, ok := downscale(data, baseType(meta.Mimetype), u.cfg.MaxImageSide); ok {
			slog.Debug("image downscaled before upload", "from", len(data), "to", len(shrunk))
			data = shrunk
		}
	}

	body, contentType, err := multipartBody(data, meta)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("media: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", u.cfg.APIKey)

	slog.Info("uploading media", "filename", meta.Filename, "mimetype", meta.Mimetype, "size", len(data))
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: upload failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("media: upload failed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var ur uploadResponse
	if err := json.Unmarshal(raw, &ur); err != nil {
		return nil, fmt.Errorf("media: decode response: %w", err)
	}
	if !ur.Success {
		msg := ur.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("media: upload rejected: %s", msg)
	}

	res := &Result{
		URL:           ur.Data.PublicURL,
		ThumbnailURL:  ur.Data.ThumbnailURL,
		FileID:        ur.Data.ID,
		Filename:      ur.Data.Filename,
		OriginalName:  ur.Data.OriginalName,
		MimeType:      ur.Data.MimeType,
		OriginalSize:  original,
		OptimizedSize: ur.Data.Size,
		Message:       ur.Message,
	}
	slog.Info("media uploaded", "url", res.URL, "file_id", res.FileID, "original_size", res.OriginalSize, "optimized_size", res.OptimizedSize)
	return res, nil
}

func multipartBody(data []byte, meta Metadata) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, meta.Filename))
	h.Set("Content-Type", meta.Mimetype)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("media: create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("media: write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("media: close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// FileName builds an upload file name for a message attachment. name wins
// when set; otherwise id plus an extension derived from mimetype.
func FileName(id, mimetype, name string) string {
	if name != "" {
		return name
	}
	ext := ".bin"
	if exts, err := mime.ExtensionsByType(baseType(mimetype)); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	switch baseType(mimetype) {
	case "image/jpeg":
		ext = ".jpg"
	case "audio/ogg":
		ext = ".ogg"
	case "video/mp4":
		ext = ".mp4"
	}
	return id + ext
}
