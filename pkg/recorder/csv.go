package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	errs "attachdl/pkg/errors"
)

// Sink receives recorded rows. Writes may be buffered until Sync.
type Sink interface {
	WriteMetadata(rec MetadataRecord) error
	WriteError(rec ErrorRecord) error
	// Sync makes every previous write durable
	Sync() error
	Close() error
}

type csvLog struct {
	file   *os.File
	writer *csv.Writer
}

func openCSVLog(path string, header []string) (*csvLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.Storage("failed to create log directory", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errs.Storage(fmt.Sprintf("failed to open %s", path), err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Storage(fmt.Sprintf("failed to stat %s", path), err)
	}

	l := &csvLog{file: f, writer: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.write(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *csvLog) write(row []string) error {
	if err := l.writer.Write(row); err != nil {
		return errs.Storage("failed to write log row", err)
	}
	return nil
}

func (l *csvLog) sync() error {
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return errs.Storage("failed to flush log", err)
	}
	if err := l.file.Sync(); err != nil {
		return errs.Storage("failed to sync log", err)
	}
	return nil
}

func (l *csvLog) close() error {
	err := l.sync()
	if cerr := l.file.Close(); err == nil && cerr != nil {
		err = errs.Storage("failed to close log", cerr)
	}
	return err
}

// CSVSink appends to the metadata and error logs, writing each header once per file.
type CSVSink struct {
	metadata *csvLog
	errors   *csvLog
}

func NewCSVSink(metadataPath, errorPath string) (*CSVSink, error) {
	metadata, err := openCSVLog(metadataPath, metadataHeader)
	if err != nil {
		return nil, err
	}
	errLog, err := openCSVLog(errorPath, errorHeader)
	if err != nil {
		metadata.close()
		return nil, err
	}
	return &CSVSink{metadata: metadata, errors: errLog}, nil
}

func (s *CSVSink) WriteMetadata(rec MetadataRecord) error {
	return s.metadata.write(rec.row())
}

func (s *CSVSink) WriteError(rec ErrorRecord) error {
	return s.errors.write(rec.row())
}

func (s *CSVSink) Sync() error {
	if err := s.metadata.sync(); err != nil {
		return err
	}
	return s.errors.sync()
}

func (s *CSVSink) Close() error {
	err := s.metadata.close()
	if eerr := s.errors.close(); err == nil {
		err = eerr
	}
	return err
}
