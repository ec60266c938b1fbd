package minio

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/DRSN-tech/price-sync/internal/cfg"
	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/e"
	"github.com/google/uuid"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

// SnapshotRepo архивирует сырые страницы, из которых не удалось извлечь ни одной записи.
type SnapshotRepo struct {
	mc  *minio.Client
	cfg *cfg.MinIOCfg
}

func NewSnapshotRepo(mc *minio.Client, cfg *cfg.MinIOCfg) *SnapshotRepo {
	return &SnapshotRepo{
		mc:  mc,
		cfg: cfg,
	}
}

// SavePage загружает страницу в MinIO и возвращает ключ объекта.
func (s *SnapshotRepo) SavePage(ctx context.Context, req *usecase.SavePageReq) (string, error) {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "text/html"
	}

	key := SnapshotKey(req)
	info, err := s.mc.PutObject(ctx, s.cfg.BucketName, key, bytes.NewReader(req.Body), int64(len(req.Body)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"source-url": req.URL,
			"merchant":   req.Merchant,
		},
	})
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}

// SnapshotKey строит ключ вида merchant/2006-01-02/path-slug-<uuid>.html.
func SnapshotKey(req *usecase.SavePageReq) string {
	slug := "page"
	if u, err := url.Parse(req.URL); err == nil {
		if p := strings.Trim(u.Path, "/"); p != "" {
			slug = strings.NewReplacer("/", "_", ".", "_").Replace(p)
		}
	}
	if len(slug) > 80 {
		slug = slug[:80]
	}

	return fmt.Sprintf("%s/%s/%s-%s.html", req.Merchant, req.FetchedAt.UTC().Format("2006-01-02"), slug, uuid.NewString())
}
