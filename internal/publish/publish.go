// Package publish uploads final products to a Cloud Storage bucket.
package publish

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/zulandar/empatia/internal/config"
	"github.com/zulandar/empatia/internal/logging"
	"github.com/zulandar/empatia/internal/pipeline"
	"github.com/zulandar/empatia/internal/product"
)

// remote describes an object already in the bucket.
type remote struct {
	MD5        []byte
	Generation int64
}

// bucket reads object attributes and creates object writers. A writer for
// generation 0 only creates the object; any other generation replaces that
// exact generation. A failed precondition is a 412 googleapi.Error.
type bucket interface {
	Attrs(ctx context.Context, object string) (*remote, error)
	NewWriter(ctx context.Context, object string, generation int64, sum []byte) io.WriteCloser
}

type gcsBucket struct {
	h *storage.BucketHandle
}

// Attrs returns nil for a missing object.
func (b gcsBucket) Attrs(ctx context.Context, object string) (*remote, error) {
	attrs, err := b.h.Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &remote{MD5: attrs.MD5, Generation: attrs.Generation}, nil
}

func (b gcsBucket) NewWriter(ctx context.Context, object string, generation int64, sum []byte) io.WriteCloser {
	cond := storage.Conditions{DoesNotExist: true}
	if generation != 0 {
		cond = storage.Conditions{GenerationMatch: generation}
	}
	w := b.h.Object(object).If(cond).NewWriter(ctx)
	w.MD5 = sum
	return w
}

// Publisher copies product archives under Root to the bucket, keeping their
// path relative to Root. An object is replaced only when the local archive
// differs from it, so a rerun that rebuilt a product republishes it. It implements
// pipeline.Observer and publishes the archives of every date that produced
// something.
type Publisher struct {
	bucket bucket
	prefix string
	root   string
	client *storage.Client
	log    zerolog.Logger
}

var _ pipeline.Observer = (*Publisher)(nil)

// New connects to the configured bucket. It returns nil when no bucket is
// configured.
func New(ctx context.Context, cfg config.PublishConfig, root string, log zerolog.Logger) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("publish: storage client: %w", err)
	}
	p := newPublisher(gcsBucket{client.Bucket(cfg.Bucket)}, cfg.Prefix, root, log)
	p.client = client
	return p, nil
}

func newPublisher(b bucket, prefix, root string, log zerolog.Logger) *Publisher {
	return &Publisher{bucket: b, prefix: prefix, root: root, log: logging.Component(log, "publish")}
}

// Close releases the storage client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Upload copies files to the bucket and returns how many objects were
// written. Files whose content is already published are skipped.
func (p *Publisher) Upload(ctx context.Context, files ...string) (int, error) {
	written := 0
	for _, f := range files {
		object, err := p.objectName(f)
		if err != nil {
			return written, err
		}
		ok, err := p.put(ctx, f, object)
		if err != nil {
			return written, fmt.Errorf("publish: %s: %w", object, err)
		}
		if ok {
			written++
			p.log.Info().Str("object", object).Msg("published")
		} else {
			p.log.Debug().Str("object", object).Msg("already up to date")
		}
	}
	return written, nil
}

// UploadDir publishes every product archive directly inside dir.
func (p *Publisher) UploadDir(ctx context.Context, dir string) (int, error) {
	archives, err := filepath.Glob(filepath.Join(dir, product.Prefix+"*.zip"))
	if err != nil {
		return 0, fmt.Errorf("publish: list %s: %w", dir, err)
	}
	sort.Strings(archives)
	return p.Upload(ctx, archives...)
}

// DateFinished publishes the archives of a date that produced rasters.
// Failures are logged and leave the date's outcome unchanged.
func (p *Publisher) DateFinished(ctx context.Context, _, pipelineID string, res pipeline.DateResult) {
	if res.Produced == 0 {
		return
	}
	dir := filepath.Join(p.root, res.Date.String())
	if _, err := p.UploadDir(ctx, dir); err != nil {
		p.log.Warn().Err(err).Str(logging.FieldPipeline, pipelineID).Str(logging.FieldDate, res.Date.String()).Msg("products not published")
	}
}

func (p *Publisher) RunFinished(context.Context, *pipeline.RunReport) {}

func (p *Publisher) objectName(file string) (string, error) {
	rel, err := filepath.Rel(p.root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("publish: %s is outside %s", file, p.root)
	}
	return path.Join(p.prefix, filepath.ToSlash(rel)), nil
}

// put uploads one file unless the bucket already holds the same content.
// It reports whether an object was written.
func (p *Publisher) put(ctx context.Context, file, object string) (bool, error) {
	sum, err := md5File(file)
	if err != nil {
		return false, err
	}
	cur, err := p.bucket.Attrs(ctx, object)
	if err != nil {
		return false, fmt.Errorf("attrs: %w", err)
	}
	var generation int64
	if cur != nil {
		if bytes.Equal(cur.MD5, sum) {
			return false, nil
		}
		generation = cur.Generation
	}

	f, err := os.Open(file)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// A 412 means another writer replaced the object since Attrs; its
	// content wins.
	w := p.bucket.NewWriter(ctx, object, generation, sum)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		if preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		if preconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("finalize: %w", err)
	}
	if cur != nil {
		p.log.Info().Str("object", object).Int64("replaced_generation", generation).Msg("republished changed product")
	}
	return true, nil
}

func md5File(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", path, err)
	}
	return h.Sum(nil), nil
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
