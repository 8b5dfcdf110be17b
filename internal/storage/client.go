package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/branchchat/internal/common"
)

// UploadResponse is the body returned by the upload endpoint.
type UploadResponse struct {
	StorageID string `json:"storageId"`
}

// UploadError carries the human-readable reason an upload failed.
type UploadError struct {
	Reason string
}

func (e *UploadError) Error() string { return "upload failed: " + e.Reason }

func (e *UploadError) Is(target error) bool { return target == common.ErrAsset }

// ErrMissingStorageID is returned when the upload succeeded but the response
// carried no storage id.
var ErrMissingStorageID = errors.Wrap(common.ErrAsset, "missing storage id")

func uploadErr(reason string) error {
	return errors.WithStack(&UploadError{Reason: reason})
}

// Uploader posts bytes to an upload URL issued by GenerateUploadTarget.
type Uploader struct {
	Client *http.Client
}

func NewUploader() *Uploader {
	return &Uploader{Client: &http.Client{Timeout: 60 * time.Second}}
}

// Upload sends data and returns the storage id assigned by the server.
func (u *Uploader) Upload(ctx context.Context, url, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", uploadErr(err.Error())
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", uploadErr(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", uploadErr(http.StatusText(resp.StatusCode))
	}
	var out struct {
		Data UploadResponse `json:"data"`
		UploadResponse
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", uploadErr(err.Error())
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", uploadErr("malformed upload response")
	}
	id := out.StorageID
	if id == "" {
		id = out.Data.StorageID
	}
	if strings.TrimSpace(id) == "" {
		return "", errors.WithStack(ErrMissingStorageID)
	}
	return id, nil
}
