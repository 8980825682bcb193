package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
)

// BucketStore writes attachments to a gocloud blob bucket (s3://, gs://, file://, mem://).
// An object only becomes visible when its writer closes, so aborted transfers leave nothing behind.
type BucketStore struct {
	bucket *blob.Bucket
	url    string
	client *http.Client
	logger logger.Logger
}

// OpenBucketStore opens the bucket at bucketURL.
func OpenBucketStore(ctx context.Context, bucketURL string, client *http.Client, log logger.Logger) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, errs.Storage(fmt.Sprintf("failed to open bucket %s", bucketURL), err)
	}
	s := NewBucketStore(bucket, client, log)
	s.url = bucketURL
	return s, nil
}

func NewBucketStore(bucket *blob.Bucket, client *http.Client, log logger.Logger) *BucketStore {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &BucketStore{bucket: bucket, client: client, logger: log}
}

func (s *BucketStore) Location(key string) string {
	if s.url == "" {
		return key
	}
	base := s.url
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return strings.TrimRight(base, "/") + "/" + key
}

func (s *BucketStore) Exists(ctx context.Context, key string, size int64) (bool, error) {
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return false, nil
		}
		return false, errs.Storage("failed to read object attributes", err)
	}
	return attrs.Size == size, nil
}

// trackingReader remembers read failures so they can be told apart from write failures.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

func (s *BucketStore) Store(ctx context.Context, req Request, key string, size int64) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return 0, errs.Wrap(errs.ErrorTypeMalformed, "failed to create request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, errs.Wrap(errs.ErrorTypeNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return 0, err
	}

	// cancelling wctx before Close discards the object
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType: resp.Header.Get("Content-Type"),
	})
	if err != nil {
		return 0, errs.Storage("failed to open object writer", err)
	}

	src := &trackingReader{r: resp.Body}
	n, err := io.Copy(w, src)
	if err == nil && size > 0 && n != size {
		err = sizeMismatch(n, size)
	}
	if err != nil {
		cancel()
		_ = w.Close()
		if src.err != nil {
			return 0, errs.Wrap(errs.ErrorTypeNetwork, "transfer interrupted", src.err)
		}
		if errs.TypeOf(err) == errs.ErrorTypeIntegrity {
			return 0, err
		}
		return 0, errs.Storage(fmt.Sprintf("failed to write %s", key), err)
	}

	if err := w.Close(); err != nil {
		return 0, errs.Storage(fmt.Sprintf("failed to commit %s", key), err)
	}
	return n, nil
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}
