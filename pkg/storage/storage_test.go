package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"

	errs "attachdl/pkg/errors"
)

// contentServer serves body with full HEAD and Range support and counts requests.
type contentServer struct {
	*httptest.Server
	body   []byte
	heads  int32
	gets   int32
	ranges int32
	status int
}

func newContentServer(t *testing.T, body []byte) *contentServer {
	cs := &contentServer{body: body}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cs.status != 0 {
			w.WriteHeader(cs.status)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodHead {
			atomic.AddInt32(&cs.heads, 1)
		}
		if r.Method == http.MethodGet {
			atomic.AddInt32(&cs.gets, 1)
			if r.Header.Get("Range") != "" {
				atomic.AddInt32(&cs.ranges, 1)
			}
		}
		http.ServeContent(w, r, "body", time.Time{}, bytes.NewReader(cs.body))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *contentServer) request() Request {
	return Request{
		URL:     cs.URL + "/services/data/v58.0/sobjects/Attachment/00P000000000000001/Body",
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Token:   "tok",
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		id, name string
		want     string
		wantErr  bool
	}{
		{"00P000000000000001", "invoice.pdf", "00P000000000000001.pdf", false},
		{"00P000000000000001", "archive.tar.gz", "00P000000000000001.gz", false},
		{"00P000000000000001", "README", "00P000000000000001.bin", false},
		{"00P000000000000001", "", "00P000000000000001.bin", false},
		{"00P000000000000001", "weird.p df", "00P000000000000001.bin", false},
		{"00P000000000000001", "trailing.", "00P000000000000001.bin", false},
		{"", "invoice.pdf", "", true},
		{"../etc", "passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.id+"/"+tt.name, func(t *testing.T) {
			got, err := ObjectKey(tt.id, tt.name)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errs.KindPermanent, errs.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileStoreStore(t *testing.T) {
	body := bytes.Repeat([]byte("attachment-"), 1000)
	cs := newContentServer(t, body)

	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "out"), nil, nil)
	require.NoError(t, err)

	n, err := s.Store(context.Background(), cs.request(), "a.pdf", int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := os.ReadFile(s.Location("a.pdf"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.NoFileExists(t, s.Location("a.pdf")+".part")

	ok, err := s.Exists(context.Background(), "a.pdf", int64(len(body)))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(context.Background(), "a.pdf", 1)
	require.NoError(t, err)
	assert.False(t, ok, "size must match exactly")

	ok, err = s.Exists(context.Background(), "missing.pdf", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreResumesPartialFile(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 500)
	cs := newContentServer(t, body)

	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Location("r.bin")+".part", body[:1200], 0644))

	n, err := s.Store(context.Background(), cs.request(), "r.bin", int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cs.ranges))

	got, err := os.ReadFile(s.Location("r.bin"))
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFileStoreCompletePartialFileIsNotRefetched(t *testing.T) {
	body := []byte("already here")
	cs := newContentServer(t, body)

	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Location("c.txt")+".part", body, 0644))

	_, err = s.Store(context.Background(), cs.request(), "c.txt", int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&cs.gets))
	assert.FileExists(t, s.Location("c.txt"))
}

func TestFileStoreSizeMismatch(t *testing.T) {
	cs := newContentServer(t, []byte("short"))

	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	_, err = s.Store(context.Background(), cs.request(), "m.bin", 100)
	require.Error(t, err)
	assert.Equal(t, errs.KindTransient, errs.KindOf(err))
	assert.Equal(t, errs.ErrorTypeIntegrity, errs.TypeOf(err))
	assert.NoFileExists(t, s.Location("m.bin"))
}

func TestFileStoreRequestsPerStore(t *testing.T) {
	body := []byte("counted")
	cs := newContentServer(t, body)

	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	_, err = s.Store(context.Background(), cs.request(), "n.txt", int64(len(body)))
	require.NoError(t, err)

	sent := int(atomic.LoadInt32(&cs.heads) + atomic.LoadInt32(&cs.gets))
	assert.Equal(t, RequestsPerStore(s), sent)
	assert.Equal(t, 1, RequestsPerStore(&BucketStore{}))
}

func TestFileStoreWriteFailureIsStorageError(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /dev/full")
	}
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full")
	}
	body := bytes.Repeat([]byte("x"), 10000)
	cs := newContentServer(t, body)

	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	// every write to the partial file fails as on a full disk
	require.NoError(t, os.Symlink("/dev/full", s.Location("full.bin")+".part"))

	_, err = s.Store(context.Background(), cs.request(), "full.bin", int64(len(body)))
	require.Error(t, err)
	assert.True(t, errs.IsStorage(err))
	assert.Equal(t, errs.KindStorage, errs.KindOf(err))
	assert.NoFileExists(t, s.Location("full.bin"))
	_, err = os.Lstat(s.Location("full.bin") + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		kind   errs.Kind
		typ    errs.ErrorType
	}{
		{http.StatusNotFound, errs.KindPermanent, errs.ErrorTypeNotFound},
		{http.StatusForbidden, errs.KindPermanent, errs.ErrorTypeAuth},
		{http.StatusServiceUnavailable, errs.KindTransient, errs.ErrorTypeServerError},
		{http.StatusTooManyRequests, errs.KindTransient, errs.ErrorTypeRateLimit},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			cs := newContentServer(t, []byte("x"))
			cs.status = tt.status

			s, err := NewFileStore(t.TempDir(), nil, nil)
			require.NoError(t, err)

			_, err = s.Store(context.Background(), cs.request(), "e.bin", 1)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.Equal(t, tt.typ, errs.TypeOf(err))
			assert.NoFileExists(t, s.Location("e.bin"))
		})
	}
}

func TestFileStoreUnauthorized(t *testing.T) {
	cs := newContentServer(t, []byte("secret"))
	req := cs.request()
	req.Headers["Authorization"] = "Bearer expired"

	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	_, err = s.Store(context.Background(), req, "u.bin", 6)
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
}

func openMemBucket(t *testing.T) *blob.Bucket {
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	return bucket
}

func TestBucketStoreStore(t *testing.T) {
	body := bytes.Repeat([]byte{0xAB}, 4096)
	cs := newContentServer(t, body)
	ctx := context.Background()

	bucket := openMemBucket(t)
	s := NewBucketStore(bucket, nil, nil)
	defer s.Close()

	n, err := s.Store(ctx, cs.request(), "00P000000000000001.bin", int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)

	got, err := bucket.ReadAll(ctx, "00P000000000000001.bin")
	require.NoError(t, err)
	assert.Equal(t, body, got)

	ok, err := s.Exists(ctx, "00P000000000000001.bin", int64(len(body)))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "nope.bin", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBucketStoreSizeMismatchLeavesNoObject(t *testing.T) {
	cs := newContentServer(t, []byte("tiny"))
	ctx := context.Background()

	bucket := openMemBucket(t)
	s := NewBucketStore(bucket, nil, nil)
	defer s.Close()

	_, err := s.Store(ctx, cs.request(), "k.bin", 1000)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeIntegrity, errs.TypeOf(err))

	exists, err := bucket.Exists(ctx, "k.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBucketStoreStatusError(t *testing.T) {
	cs := newContentServer(t, []byte("x"))
	cs.status = http.StatusBadGateway

	s := NewBucketStore(openMemBucket(t), nil, nil)
	defer s.Close()

	_, err := s.Store(context.Background(), cs.request(), "k.bin", 1)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
}

func TestBucketStoreLocation(t *testing.T) {
	s, err := OpenBucketStore(context.Background(), "mem://attachments", nil, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "mem://attachments/a.pdf", s.Location("a.pdf"))
}
