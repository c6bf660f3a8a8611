package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
)

var errObjectExists = errors.New("object already exists")

// ObjectStore is the slice of a bucket the GCS source and sink need.
type ObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	// Create writes name only when it does not exist yet.
	Create(ctx context.Context, name string, data []byte) error
}

// BucketStore is an ObjectStore backed by a GCS bucket.
type BucketStore struct {
	bucket *storage.BucketHandle
}

func NewBucketStore(client *storage.Client, bucket string) *BucketStore {
	return &BucketStore{bucket: client.Bucket(bucket)}
}

func (b *BucketStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := b.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (b *BucketStore) Read(ctx context.Context, name string) ([]byte, error) {
	r, err := b.bucket.Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (b *BucketStore) Create(ctx context.Context, name string, data []byte) error {
	w := b.bucket.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if strings.HasSuffix(name, ".xlsx") {
		w.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return preconditionErr(name, err)
	}
	if err := w.Close(); err != nil {
		return preconditionErr(name, err)
	}
	return nil
}

func preconditionErr(name string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%s: %w", name, errObjectExists)
	}
	return fmt.Errorf("write %s: %w", name, err)
}

// GCSSource loads every allowed object under Prefix, sorted by name.
type GCSSource struct {
	store  ObjectStore
	Bucket string
	Prefix string
	logger *slog.Logger
}

func NewGCSSource(store ObjectStore, bucket, prefix string, logger *slog.Logger) *GCSSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSSource{store: store, Bucket: bucket, Prefix: prefix, logger: logger}
}

func (s *GCSSource) Load(ctx context.Context) ([]entity.Document, []IngestionResult, DirStats, error) {
	names, err := s.store.List(ctx, s.Prefix)
	if err != nil {
		s.logger.Error("ingest.gcs.list_failed", "bucket", s.Bucket, "prefix", s.Prefix, "error", err)
		return nil, nil, DirStats{}, err
	}
	slices.Sort(names)

	var (
		docs    []entity.Document
		results []IngestionResult
		stats   DirStats
		seen    = map[string]struct{}{}
	)
	for _, name := range names {
		stats.Scanned++
		base := path.Base(name)
		if strings.HasSuffix(name, "/") || IsHidden(base) || !AllowedExt(path.Ext(name)) {
			continue
		}
		stats.Matched++
		src := fmt.Sprintf("gs://%s/%s", s.Bucket, name)
		ext := constants.NormalizeExt(path.Ext(name))

		data, err := s.store.Read(ctx, name)
		if err != nil {
			s.logger.Error("ingest.gcs.read_failed", "object", src, "error", err)
			results = append(results, IngestionResult{SourcePath: src, FileExt: ext, Err: err.Error()})
			stats.Failed++
			docs = append(docs, entity.Document{Filename: base, SourcePath: src})
			continue
		}
		doc := NewDocument(base, data)
		doc.SourcePath = src
		docs = append(docs, doc)

		r := IngestionResult{SourcePath: src, HashHex: doc.HashHex, FileExt: ext}
		if _, dup := seen[doc.HashHex]; dup {
			r.Deduplicated = true
			stats.Deduplicated++
		}
		seen[doc.HashHex] = struct{}{}
		results = append(results, r)
		stats.Succeeded++
	}
	s.logger.Info("ingest.gcs.ok", "bucket", s.Bucket, "prefix", s.Prefix, "files", len(docs))
	return docs, results, stats, nil
}

// GCSSink uploads reports under Prefix. An existing object is never
// overwritten; the name gets a numeric suffix instead.
type GCSSink struct {
	store    ObjectStore
	Bucket   string
	Prefix   string
	attempts int
	logger   *slog.Logger
}

func NewGCSSink(store ObjectStore, bucket, prefix string, logger *slog.Logger) *GCSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSSink{store: store, Bucket: bucket, Prefix: prefix, attempts: 10, logger: logger}
}

func (s *GCSSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < s.attempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
		}
		object := s.Prefix + candidate
		err := s.store.Create(ctx, object, data)
		if errors.Is(err, errObjectExists) {
			s.logger.Info("ingest.gcs.exists", "object", object)
			continue
		}
		if err != nil {
			s.logger.Error("ingest.gcs.put_failed", "object", object, "error", err)
			return "", err
		}
		dest := fmt.Sprintf("gs://%s/%s", s.Bucket, object)
		s.logger.Info("ingest.gcs.put_ok", "object", dest, "bytes", len(data))
		return dest, nil
	}
	return "", fmt.Errorf("%s: no free name after %d attempts: %w", name, s.attempts, errObjectExists)
}
