package checkpoint

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	errs "attachdl/pkg/errors"
	"attachdl/pkg/logger"
	"attachdl/pkg/models"
)

// CurrentVersion is the on-disk format version written by Save.
const CurrentVersion = 1

// Checkpoint is the persisted progress of a run. Cursor and ProcessedCount always describe
// a complete prefix of the record set: every descriptor before Cursor has a terminal outcome.
type Checkpoint struct {
	Cursor            models.Cursor `json:"cursor"`
	ProcessedCount    int64         `json:"processed_count"`
	Succeeded         int64         `json:"succeeded"`
	Skipped           int64         `json:"skipped"`
	PermanentFailures int64         `json:"permanent_failures"`
	ExhaustedRetries  int64         `json:"exhausted_retries"`
	// Completed is set once the final batch has been flushed
	Completed bool      `json:"completed"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// IsZero reports whether the checkpoint describes a run that has not flushed anything.
func (c *Checkpoint) IsZero() bool {
	return c.Cursor.IsStart() && c.ProcessedCount == 0
}

// Store persists checkpoints.
type Store interface {
	// Load returns a zero-valued checkpoint when nothing has been persisted yet
	Load() (*Checkpoint, error)
	// Save atomically replaces the persisted checkpoint
	Save(cp *Checkpoint) error
}

// FileStore keeps the checkpoint as an indented JSON file, replaced atomically on every save.
type FileStore struct {
	path   string
	logger logger.Logger
}

// NewFileStore creates a store at path. An empty path resolves to DefaultPath.
func NewFileStore(path string, log logger.Logger) (*FileStore, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &FileStore{path: path, logger: log}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

// Load loads the persisted checkpoint
func (s *FileStore) Load() (*Checkpoint, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Checkpoint{Version: CurrentVersion}, nil
		}
		return nil, errs.Storage("failed to open checkpoint file", err)
	}
	defer file.Close()

	var cp Checkpoint
	if err := json.NewDecoder(file).Decode(&cp); err != nil {
		return nil, errs.Storage(fmt.Sprintf("failed to decode checkpoint %s", s.path), err)
	}
	if cp.Version > CurrentVersion {
		return nil, errs.Storage(fmt.Sprintf("checkpoint version %d is newer than supported version %d", cp.Version, CurrentVersion), nil)
	}

	s.logger.InfoWithFields("checkpoint loaded", map[string]interface{}{
		"sequence":        cp.Cursor.Sequence,
		"processed_count": cp.ProcessedCount,
		"run_id":          cp.RunID,
		"updated_at":      cp.UpdatedAt,
	})

	return &cp, nil
}

// Save writes to a temporary file in the same directory, syncs it and renames it over the
// previous checkpoint, so a crash leaves either the old or the new checkpoint intact.
func (s *FileStore) Save(cp *Checkpoint) error {
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = CurrentVersion

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Storage("failed to create checkpoint directory", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errs.Storage("failed to create temporary checkpoint file", err)
	}
	tempPath := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Storage("failed to encode checkpoint", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return errs.Storage("failed to sync checkpoint file", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return errs.Storage("failed to close checkpoint file", err)
	}

	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errs.Storage("failed to replace checkpoint file", err)
	}

	syncDir(dir)

	s.logger.DebugWithFields("checkpoint saved", map[string]interface{}{
		"sequence":        cp.Cursor.Sequence,
		"processed_count": cp.ProcessedCount,
	})

	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
}

// Delete removes the checkpoint file
func (s *FileStore) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errs.Storage("failed to delete checkpoint", err)
	}

	s.logger.InfoWithFields("checkpoint deleted", map[string]interface{}{"path": s.path})
	return nil
}

func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Backup copies the checkpoint to <path>.backup. It is a no-op when there is no checkpoint.
func (s *FileStore) Backup() (string, error) {
	if !s.Exists() {
		return "", nil
	}

	backupPath := s.path + ".backup"

	src, err := os.Open(s.path)
	if err != nil {
		return "", errs.Storage("failed to open checkpoint for backup", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return "", errs.Storage("failed to create backup file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", errs.Storage("failed to copy checkpoint to backup", err)
	}

	s.logger.DebugWithFields("checkpoint backed up", map[string]interface{}{"backup": backupPath})
	return backupPath, nil
}

// Info summarises a stored checkpoint for display.
type Info struct {
	Path       string
	Exists     bool
	Checkpoint *Checkpoint
	Age        time.Duration
}

func (s *FileStore) Info() (*Info, error) {
	info := &Info{Path: s.path, Exists: s.Exists()}
	if !info.Exists {
		return info, nil
	}

	cp, err := s.Load()
	if err != nil {
		return nil, err
	}
	info.Checkpoint = cp
	info.Age = time.Since(cp.UpdatedAt)
	return info, nil
}

// DefaultPath returns the checkpoint location inside the per-user data directory.
func DefaultPath() (string, error) {
	dataDir, err := DataDirectory()
	if err != nil {
		return "", fmt.Errorf("failed to get data directory: %w", err)
	}
	return filepath.Join(dataDir, "checkpoint.json"), nil
}

// DataDirectory returns the appropriate data directory for the current OS, creating it if needed.
func DataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "attachdl")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "attachdl")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "attachdl")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "attachdl")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
