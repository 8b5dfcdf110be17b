// Package storage is the blob collaborator: it hands out signed upload
// URLs, stores uploaded bytes on local disk, keeps their metadata in the
// database and resolves asset ids to public URLs.
package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/branchchat/internal/auth"
	"github.com/suPer8Hu/branchchat/internal/common"
)

type Asset struct {
	ID          string    `gorm:"primaryKey;size:26" json:"id"`
	ContentType string    `gorm:"type:varchar(128);not null" json:"content_type"`
	Size        int64     `gorm:"not null" json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Asset) TableName() string { return "assets" }

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 20 << 20

type LocalStore struct {
	db      *gorm.DB
	dir     string
	baseURL string
	secret  string
	ttl     time.Duration
}

func NewLocalStore(db *gorm.DB, dir, baseURL, secret string, ttl time.Duration) (*LocalStore, error) {
	if dir == "" {
		dir = "./data/files"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", dir)
	}
	return &LocalStore{
		db:      db,
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		ttl:     ttl,
	}, nil
}

// GenerateUploadTarget reserves an asset id and returns a URL that accepts
// exactly one POST of its bytes until the token expires.
func (s *LocalStore) GenerateUploadTarget(ctx context.Context) (string, error) {
	_ = ctx
	id, err := common.NewULID()
	if err != nil {
		return "", err
	}
	token, err := auth.SignJWT(id, s.secret, auth.AudienceUpload, s.ttl)
	if err != nil {
		return "", errors.Wrap(common.ErrAsset, err.Error())
	}
	return s.baseURL + "/files/upload/" + token, nil
}

// VerifyUpload returns the asset id an upload token was issued for.
func (s *LocalStore) VerifyUpload(token string) (string, error) {
	id, err := auth.ParseJWT(token, s.secret, auth.AudienceUpload)
	if err != nil {
		return "", errors.Wrap(common.ErrValidation, err.Error())
	}
	return id, nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}

// Save stores the body of an upload under id. A reserved id can be used once.
func (s *LocalStore) Save(ctx context.Context, id, contentType string, body io.Reader) (*Asset, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.GetMetadata(ctx, id); err == nil {
		return nil, errors.Wrapf(common.ErrInvalidState, "asset %s already uploaded", id)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(body, MaxUploadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, errors.Wrap(err, "write upload")
	}
	if n > MaxUploadBytes {
		return nil, errors.Wrapf(common.ErrValidation, "upload exceeds %d bytes", MaxUploadBytes)
	}

	// the row claims the id; only the claimant moves bytes into place
	a := &Asset{ID: id, ContentType: contentType, Size: n, CreatedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "insert asset")
	}
	if res.RowsAffected == 0 {
		return nil, errors.Wrapf(common.ErrInvalidState, "asset %s already uploaded", id)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		if derr := s.db.WithContext(context.WithoutCancel(ctx)).Delete(&Asset{}, "id = ?", id).Error; derr != nil {
			log.Error().Err(derr).Str("asset_id", id).Msg("asset_release_failed")
		}
		return nil, errors.Wrap(err, "store upload")
	}
	log.Debug().Str("asset_id", id).Str("content_type", contentType).Int64("size", n).Msg("asset_stored")
	return a, nil
}

func (s *LocalStore) GetMetadata(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(common.ErrNotFound, "asset %s", id)
		}
		return nil, errors.Wrapf(err, "load asset %s", id)
	}
	return &a, nil
}

// ResolveURL returns the public URL of a stored asset.
func (s *LocalStore) ResolveURL(ctx context.Context, id string) (string, error) {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return "", err
	}
	return s.baseURL + "/files/" + id, nil
}

// Open returns the asset metadata and a reader over its bytes.
func (s *LocalStore) Open(ctx context.Context, id string) (*Asset, *os.File, error) {
	a, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrapf(common.ErrNotFound, "asset %s", id)
		}
		return nil, nil, errors.Wrapf(err, "open asset %s", id)
	}
	return a, f, nil
}
