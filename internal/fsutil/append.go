package fsutil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/FilfTeen/beyond-dev-ai-kit-sub001/internal/filelock"
)

// AppendLineLocked appends exactly one line to a file under a cross-process
// lock. The caller provides raw bytes for one record; a trailing newline is
// added and the file is fsynced before returning.
func AppendLineLocked(ctx context.Context, path string, line []byte, mode os.FileMode) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return fmt.Errorf("append line: record must not contain a newline")
	}
	cleanPath := filepath.Clean(path)
	parent := filepath.Dir(cleanPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create append directory: %w", err)
	}

	payload := make([]byte, 0, len(line)+1)
	payload = append(payload, line...)
	payload = append(payload, '\n')

	err := filelock.With(ctx, cleanPath, func() error {
		file, openErr := os.OpenFile(cleanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if openErr != nil {
			return fmt.Errorf("open append file: %w", openErr)
		}
		defer func() {
			_ = file.Close()
		}()
		if _, writeErr := file.Write(payload); writeErr != nil {
			return fmt.Errorf("append file line: %w", writeErr)
		}
		if syncErr := file.Sync(); syncErr != nil {
			return fmt.Errorf("sync append file: %w", syncErr)
		}
		return nil
	})
	if err != nil {
		return err
	}

	SyncDir(parent)
	return nil
}
