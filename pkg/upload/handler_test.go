package upload_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/mirror/pkg/upload"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

type recordingStore struct {
	tempID string
	saveFn func(filename, contentType string, size int64, r io.Reader) (string, error)
}

func (s *recordingStore) Save(_ context.Context, filename, contentType string, size int64, r io.Reader) (string, error) {
	if s.saveFn != nil {
		return s.saveFn(filename, contentType, size, r)
	}
	if s.tempID == "" {
		return "temp123", nil
	}
	return s.tempID, nil
}

func (s *recordingStore) Claim(context.Context, string) (*upload.File, error) {
	return nil, errors.New("not implemented")
}

func (s *recordingStore) Cleanup(context.Context, time.Duration) error {
	return errors.New("not implemented")
}

func rejectSave(t *testing.T) *recordingStore {
	return &recordingStore{
		saveFn: func(string, string, int64, io.Reader) (string, error) {
			t.Fatal("Save called for a rejected upload")
			return "", nil
		},
	}
}

func multipartRequest(t *testing.T, filename, partType string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if partType != "" {
		h.Set("Content-Type", partType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRejectsNonPost(t *testing.T) {
	rec := serve(upload.Handler(&recordingStore{}), httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandlerBadRequests(t *testing.T) {
	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewBufferString("not multipart"))
		req.Header.Set("Content-Type", "text/plain")
		assert.Equal(t, http.StatusBadRequest, serve(upload.Handler(&recordingStore{}), req).Code)
	})

	t.Run("no file part", func(t *testing.T) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		require.NoError(t, w.WriteField("not_file", "x"))
		require.NoError(t, w.Close())
		req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
		req.Header.Set("Content-Type", w.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, serve(upload.Handler(&recordingStore{}), req).Code)
	})
}

func TestHandlerDetectsTypeFromContent(t *testing.T) {
	// The part header claims PNG but the bytes are JPEG.
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}
	h := upload.HandlerWithConfig(rejectSave(t), &upload.Config{
		MaxFileSize:  1 << 20,
		AllowedTypes: []string{"image/png"},
	})
	rec := serve(h, multipartRequest(t, "photo.png", "image/png", jpeg))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandlerAcceptsAllowedType(t *testing.T) {
	var gotName, gotType string
	var gotSize int64
	var gotData []byte
	store := &recordingStore{
		saveFn: func(filename, contentType string, size int64, r io.Reader) (string, error) {
			gotName, gotType, gotSize = filename, contentType, size
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			gotData = data
			return "abc123", nil
		},
	}
	h := upload.HandlerWithConfig(store, &upload.Config{
		MaxFileSize:  1 << 20,
		AllowedTypes: []string{"IMAGE/PNG; charset=binary"},
	})

	content := append(append([]byte{}, pngHeader...), "signature is enough"...)
	rec := serve(h, multipartRequest(t, "chart.png", "Image/PNG", content))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info upload.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, upload.Info{
		TempID:      "abc123",
		Filename:    "chart.png",
		ContentType: "image/png",
		Size:        int64(len(content)),
	}, info)

	assert.Equal(t, "chart.png", gotName)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, int64(len(content)), gotSize)
	assert.Equal(t, content, gotData)
}

func TestHandlerExtensionRules(t *testing.T) {
	tests := []struct {
		name   string
		config *upload.Config
	}{
		{"allowed extensions", &upload.Config{
			MaxFileSize:       1 << 20,
			AllowedExtensions: []string{".png"},
		}},
		{"extension must match type", &upload.Config{
			MaxFileSize:           1 << 20,
			RequireExtensionMatch: true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := upload.HandlerWithConfig(rejectSave(t), tt.config)
			rec := serve(h, multipartRequest(t, "chart.jpg", "image/png", pngHeader))
			assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
		})
	}
}

func TestHandlerTooLarge(t *testing.T) {
	t.Run("request body", func(t *testing.T) {
		h := upload.HandlerWithConfig(&recordingStore{}, &upload.Config{MaxFileSize: 16})
		rec := serve(h, multipartRequest(t, "a.txt", "text/plain", bytes.Repeat([]byte("a"), 256)))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("store limit", func(t *testing.T) {
		store := &recordingStore{
			saveFn: func(string, string, int64, io.Reader) (string, error) {
				return "", upload.ErrTooLarge
			},
		}
		h := upload.HandlerWithConfig(store, &upload.Config{MaxFileSize: 1 << 20})
		rec := serve(h, multipartRequest(t, "a.txt", "text/plain", []byte("x")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestHandlerStoreFailure(t *testing.T) {
	store := &recordingStore{
		saveFn: func(string, string, int64, io.Reader) (string, error) {
			return "", errors.New("disk full")
		},
	}
	h := upload.HandlerWithConfig(store, upload.DefaultConfig())
	rec := serve(h, multipartRequest(t, "a.txt", "text/plain", []byte("x")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{upload.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{upload.ErrUnsupportedType, http.StatusUnsupportedMediaType},
		{upload.ErrNoFile, http.StatusBadRequest},
		{upload.ErrBadRequest, http.StatusBadRequest},
		{upload.ErrNotFound, http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, upload.StatusCode(tt.err), "%v", tt.err)
	}
}
