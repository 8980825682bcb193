package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	downloader "go.bug.st/downloader/v2"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
)

// FileStore writes attachments into a local directory. Content is downloaded into
// <key>.part and renamed into place once its size has been verified; a .part file left
// behind by an interrupted run is resumed with a range request.
type FileStore struct {
	dir    string
	client http.Client
	logger logger.Logger
}

func NewFileStore(dir string, client *http.Client, log logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Storage("failed to create destination directory", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &FileStore{dir: dir, client: *client, logger: log}, nil
}

// RequestsPerStore counts the HEAD the downloader sends before its GET.
func (s *FileStore) RequestsPerStore() int {
	return 2
}

func (s *FileStore) Location(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *FileStore) Exists(ctx context.Context, key string, size int64) (bool, error) {
	info, err := os.Stat(s.Location(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Storage("failed to stat destination", err)
	}
	return info.Mode().IsRegular() && info.Size() == size, nil
}

func (s *FileStore) Store(ctx context.Context, req Request, key string, size int64) (int64, error) {
	final := s.Location(key)
	part := final + ".part"

	// opening the part file here surfaces destination problems as storage errors
	// instead of letting the downloader report them as generic failures
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, errs.Storage("failed to open partial file", err)
	}
	f.Close()

	d, err := downloader.DownloadWithConfigAndContext(ctx, part, req.URL, downloader.Config{
		HttpClient:   s.client,
		ExtraHeaders: req.Headers,
		AcceptFunc:   checkResponse,
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}

	alreadyComplete := d.Size() >= 0 && d.Completed() == d.Size()
	if !alreadyComplete {
		switch code := d.Resp.StatusCode; {
		case code == http.StatusRequestedRangeNotSatisfiable:
			d.Close()
			os.Remove(part)
			return 0, errs.New(errs.ErrorTypeIntegrity, code, "partial file does not match remote content")
		case code != http.StatusOK && code != http.StatusPartialContent:
			d.Close()
			return 0, errs.FromStatus(d.Resp)
		}
		if d.Completed() > 0 {
			s.logger.DebugWithFields("resuming partial download", map[string]interface{}{
				"key":    key,
				"offset": d.Completed(),
			})
		}
	}

	if err := d.Run(); err != nil {
		return 0, errs.Wrap(errs.ErrorTypeNetwork, "transfer interrupted", err)
	}

	info, err := os.Stat(part)
	if err != nil {
		return 0, errs.Storage("failed to stat partial file", err)
	}
	// the downloader counts bytes read, not bytes written, and drops write errors
	if received := d.Completed(); info.Size() < received {
		os.Remove(part)
		return 0, errs.Storage(fmt.Sprintf("failed to write %s", key),
			fmt.Errorf("%d of %d received bytes reached the partial file", info.Size(), received))
	}
	if size > 0 && info.Size() != size {
		if info.Size() > size {
			// cannot be resumed; start over next attempt
			os.Remove(part)
		}
		return 0, sizeMismatch(info.Size(), size)
	}

	if err := os.Rename(part, final); err != nil {
		return 0, errs.Storage(fmt.Sprintf("failed to move %s into place", key), err)
	}
	return info.Size(), nil
}

func (s *FileStore) Close() error {
	return nil
}
