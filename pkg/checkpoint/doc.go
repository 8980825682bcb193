// Package checkpoint persists run progress so an interrupted transfer can resume.
//
// A checkpoint records the cursor of the next batch to fetch together with the
// number of descriptors already given a terminal outcome. It is only advanced
// after a whole batch has been recorded, so on restart the paginator resumes
// from a position where nothing before it is missing and nothing after it has
// been counted.
//
// FileStore writes the JSON file atomically (temp file, fsync, rename). When no
// path is configured the file lives in the platform data directory:
//   - Linux: $XDG_DATA_HOME/attachdl or ~/.local/share/attachdl
//   - macOS: ~/Library/Application Support/attachdl
//   - Windows: %APPDATA%/attachdl
package checkpoint
