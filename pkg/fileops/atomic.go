// Package fileops provides the file writes provisioning relies on: atomic
// replace via temp file + rename, unchanged-content detection, and idempotent
// line appends.
package fileops

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Outcome of a conditional write.
type Outcome int

const (
	Written Outcome = iota
	Unchanged
)

func (o Outcome) String() string {
	if o == Unchanged {
		return "unchanged"
	}
	return "written"
}

// WriteAtomic writes data to path through a temp file in the same directory,
// then renames it into place. Parent directories are created.
func WriteAtomic(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	logger := otelzap.Ctx(ctx)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, shared.DirPermStandard); err != nil {
		return cerr.Wrapf(err, "failed to create directory %s", dir)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return cerr.Wrap(err, "failed to create temp file")
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			_ = tempFile.Close()
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return cerr.Wrapf(err, "failed to write temp file for %s", path)
	}
	if err := tempFile.Sync(); err != nil {
		return cerr.Wrapf(err, "failed to sync temp file for %s", path)
	}
	if err := tempFile.Close(); err != nil {
		return cerr.Wrapf(err, "failed to close temp file for %s", path)
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		return cerr.Wrapf(err, "failed to set permissions on %s", path)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return cerr.Wrapf(err, "failed to rename temp file to %s", path)
	}
	tempFile = nil

	logger.Debug("File written atomically",
		zap.String("path", path),
		zap.Int("size", len(data)),
		zap.String("permissions", perm.String()))
	return nil
}

// WriteIfChanged skips the write when path already holds exactly data with
// the requested permissions.
func WriteIfChanged(ctx context.Context, path string, data []byte, perm os.FileMode) (Outcome, error) {
	if info, err := os.Stat(path); err == nil && info.Mode().Perm() == perm {
		if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, data) {
			otelzap.Ctx(ctx).Debug("File unchanged, skipping write", zap.String("path", path))
			return Unchanged, nil
		}
	}
	if err := WriteAtomic(ctx, path, data, perm); err != nil {
		return Written, err
	}
	return Written, nil
}

// AppendLineIfMissing appends line to path unless an identical line (ignoring
// surrounding whitespace) already exists. It reports whether it appended.
func AppendLineIfMissing(ctx context.Context, path, line string, perm os.FileMode) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, cerr.Wrapf(err, "failed to read %s", path)
	}

	want := strings.Join(strings.Fields(line), " ")
	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		if strings.Join(strings.Fields(scanner.Text()), " ") == want {
			return false, nil
		}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(line)
	buf.WriteByte('\n')

	mode := perm
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := WriteAtomic(ctx, path, buf.Bytes(), mode); err != nil {
		return false, err
	}
	otelzap.Ctx(ctx).Info("Appended line", zap.String("path", path), zap.String("line", line))
	return true, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
