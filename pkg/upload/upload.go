package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

// ErrNotFound is returned when a temp file doesn't exist.
var ErrNotFound = errors.New("upload: file not found")

// ErrTooLarge is returned when a file exceeds the size limit.
var ErrTooLarge = errors.New("upload: file too large")

// ErrUnsupportedType is returned when the detected type or the file
// extension is not allowed.
var ErrUnsupportedType = errors.New("upload: unsupported file type")

// ErrNoFile is returned when the request carries no "file" part.
var ErrNoFile = errors.New("upload: no file provided")

// ErrBadRequest is returned for requests that are not multipart forms.
var ErrBadRequest = errors.New("upload: malformed upload request")

// Store is the interface for upload storage backends.
type Store interface {
	// Save stores the uploaded file and returns a temp ID.
	// The file is stored temporarily until Claim is called.
	Save(ctx context.Context, filename, contentType string, size int64, r io.Reader) (tempID string, err error)

	// Claim retrieves a temp file. The temp file is deleted when the
	// returned File is closed; a second Claim fails with ErrNotFound.
	Claim(ctx context.Context, tempID string) (*File, error)

	// Cleanup removes temp files older than maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration) error
}

// File represents an uploaded file.
type File struct {
	// ID is the unique identifier for this upload.
	ID string

	// Filename is the original filename from the client.
	Filename string

	// ContentType is the detected MIME type of the file.
	ContentType string

	// Size is the file size in bytes.
	Size int64

	// Path is the local filesystem path (for DiskStore).
	Path string

	// URL is the remote URL (for S3 storage).
	URL string

	// Reader provides access to the file contents.
	Reader io.ReadCloser
}

// Read reads from the file contents.
func (f *File) Read(p []byte) (int, error) {
	if f.Reader == nil {
		return 0, io.EOF
	}
	return f.Reader.Read(p)
}

// Close closes the file reader if open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}

// NewID returns a new temp ID. IDs are KSUIDs, so they sort by creation
// time and are safe to use as file names and object keys.
func NewID() string {
	return ksuid.New().String()
}

// validID reports whether id could have been returned by NewID.
func validID(id string) bool {
	_, err := ksuid.Parse(id)
	return err == nil
}

// Config holds configuration for upload handling.
type Config struct {
	// MaxFileSize is the maximum allowed file size in bytes.
	// Default: 10MB.
	MaxFileSize int64

	// AllowedTypes is a list of allowed MIME types, matched against the
	// type detected from the content. If empty, all types are allowed.
	AllowedTypes []string

	// AllowedExtensions is a list of allowed filename extensions such as
	// ".png". If empty, all extensions are allowed.
	AllowedExtensions []string

	// RequireExtensionMatch rejects files whose extension is not
	// registered for the detected type.
	RequireExtensionMatch bool

	// TempExpiry is how long temp files live before cleanup.
	// Default: 1 hour.
	TempExpiry time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxFileSize: 10 * 1024 * 1024, // 10MB
		TempExpiry:  time.Hour,
	}
}

// Info describes a received upload.
type Info struct {
	TempID      string `json:"temp_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Receive reads the "file" part of a multipart upload request into store.
// The content type is detected from the content; the client-provided part
// header is not trusted.
func Receive(w http.ResponseWriter, r *http.Request, store Store, config *Config) (*Info, error) {
	if config == nil {
		config = DefaultConfig()
	}
	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultConfig().MaxFileSize
	}

	// Limit the body before parsing.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, ErrTooLarge
		}
		return nil, ErrBadRequest
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, ErrNoFile
	}
	defer file.Close()

	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, ErrBadRequest
	}
	sniff = sniff[:n]
	contentType := detectType(sniff)

	if err := config.check(header.Filename, contentType); err != nil {
		return nil, err
	}

	body := io.MultiReader(bytes.NewReader(sniff), file)
	tempID, err := store.Save(r.Context(), header.Filename, contentType, header.Size, body)
	if err != nil {
		return nil, err
	}
	return &Info{
		TempID:      tempID,
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
	}, nil
}

// detectType returns the media type of data without parameters.
func detectType(data []byte) string {
	mediaType, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}

func (c *Config) check(filename, contentType string) error {
	if len(c.AllowedTypes) > 0 && !containsFold(c.AllowedTypes, contentType, true) {
		return ErrUnsupportedType
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if len(c.AllowedExtensions) > 0 && !containsFold(c.AllowedExtensions, ext, false) {
		return ErrUnsupportedType
	}
	if c.RequireExtensionMatch {
		exts, _ := mime.ExtensionsByType(contentType)
		if ext == "" || !containsFold(exts, ext, false) {
			return ErrUnsupportedType
		}
	}
	return nil
}

// containsFold reports whether list contains v, ignoring case. With
// mediaTypes, list entries may carry parameters.
func containsFold(list []string, v string, mediaTypes bool) bool {
	for _, item := range list {
		if mediaTypes {
			if mt, _, err := mime.ParseMediaType(item); err == nil {
				item = mt
			}
		}
		if strings.EqualFold(strings.TrimSpace(item), v) {
			return true
		}
	}
	return false
}

// StatusCode maps a Receive error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNoFile), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// Handler returns an http.Handler for standalone file uploads.
//
// The handler expects a multipart form with a "file" field.
// It returns JSON with the temp_id:
//
//	{"temp_id": "2QpLd8...", "filename": "a.png", ...}
func Handler(store Store) http.Handler {
	return HandlerWithConfig(store, DefaultConfig())
}

// HandlerWithConfig returns an upload handler with custom configuration.
func HandlerWithConfig(store Store, config *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		info, err := Receive(w, r, store, config)
		if err != nil {
			status := StatusCode(err)
			msg := http.StatusText(status)
			if status == http.StatusInternalServerError {
				msg = "Upload failed"
			}
			http.Error(w, msg, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	})
}

// Claim retrieves a temp file by ID.
func Claim(ctx context.Context, store Store, tempID string) (*File, error) {
	return store.Claim(ctx, tempID)
}
