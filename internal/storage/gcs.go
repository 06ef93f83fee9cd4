package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/example/lesion-intake/internal/config"
)

type GCSStore struct {
	client       *storage.Client
	bucket       string
	prefix       string
	urlTTL       time.Duration
	signingEmail string
	signingKey   []byte
	log          *zap.Logger
}

// NewGCSStore opens a GCS client. Without an explicit signing key, signed
// URLs use whatever the client's credentials can sign with.
func NewGCSStore(ctx context.Context, cfg config.GCSConfig, prefix string, urlTTL time.Duration, log *zap.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return newGCSStore(client, cfg, prefix, urlTTL, log), nil
}

func newGCSStore(client *storage.Client, cfg config.GCSConfig, prefix string, urlTTL time.Duration, log *zap.Logger) *GCSStore {
	s := &GCSStore{
		client:       client,
		bucket:       cfg.Bucket,
		prefix:       prefix,
		urlTTL:       urlTTL,
		signingEmail: cfg.SigningEmail,
		log:          log.Named("gcs_store"),
	}
	if cfg.SigningKey != "" {
		// Keys from env vars usually carry literal \n sequences.
		s.signingKey = []byte(strings.ReplaceAll(cfg.SigningKey, `\n`, "\n"))
	}
	return s
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := objectPath(s.prefix, key)
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		s.log.Error("failed to upload object", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("write gs://%s/%s: %w", s.bucket, path, err)
	}
	if err := w.Close(); err != nil {
		s.log.Error("failed to finalize object", zap.String("path", path), zap.Error(err))
		return "", fmt.Errorf("close gs://%s/%s: %w", s.bucket, path, err)
	}

	s.log.Info("object uploaded", zap.String("path", path), zap.Int("size", len(data)))
	return path, nil
}

func (s *GCSStore) ResolveURL(_ context.Context, path string) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.urlTTL),
	}
	if len(s.signingKey) > 0 {
		opts.GoogleAccessID = s.signingEmail
		opts.PrivateKey = s.signingKey
		return storage.SignedURL(s.bucket, path, opts)
	}
	if s.client == nil {
		return "", errors.New("gcs signing requires a client or an explicit signing key")
	}
	return s.client.Bucket(s.bucket).SignedURL(path, opts)
}

func (s *GCSStore) List(ctx context.Context) ([]BlobInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})

	var out []BlobInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", s.bucket, s.prefix, err)
		}
		out = append(out, BlobInfo{Path: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated})
	}
	return out, nil
}

func (s *GCSStore) Delete(ctx context.Context, path string) error {
	if err := s.client.Bucket(s.bucket).Object(path).Delete(ctx); err != nil {
		return fmt.Errorf("delete gs://%s/%s: %w", s.bucket, path, err)
	}
	s.log.Info("object deleted", zap.String("path", path))
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
