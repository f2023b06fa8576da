// pkg/secrets/passwd.go

package secrets

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/CodeMonkeyCybersecurity/hearth/pkg/execute"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/fileops"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/hearth_err"
	"github.com/CodeMonkeyCybersecurity/hearth/pkg/shared"
	cerr "github.com/cockroachdb/errors"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

// Mosquitto 2.x "$7$" password hash parameters.
const (
	PasswdTool        = "mosquitto_passwd"
	passwdIterations  = 101
	passwdSaltLength  = 12
	passwdKeyLength   = 64
	passwdHashVersion = "7"
)

// HashPassword returns a Mosquitto "$7$" PBKDF2-SHA512 hash of password.
func HashPassword(password string) (string, error) {
	salt := make([]byte, passwdSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", cerr.Wrap(err, "failed to generate salt")
	}
	return hashWithSalt(password, salt, passwdIterations), nil
}

func hashWithSalt(password string, salt []byte, iterations int) string {
	key := pbkdf2.Key([]byte(password), salt, iterations, passwdKeyLength, sha512.New)
	return "$" + passwdHashVersion + "$" + strconv.Itoa(iterations) + "$" +
		base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(key)
}

// VerifyPassword reports whether hash is a "$7$" hash of password. Other
// hash formats never verify.
func VerifyPassword(hash, password string) bool {
	parts := strings.Split(hash, "$")
	// "", "7", iterations, salt, key
	if len(parts) != 5 || parts[0] != "" || parts[1] != passwdHashVersion {
		return false
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(want) != passwdKeyLength {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, passwdKeyLength, sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ParsePasswdFile maps usernames to hashes.
func ParsePasswdFile(data []byte) map[string]string {
	entries := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		entries[user] = hash
	}
	return entries
}

// PasswdWriter renders the broker's password file.
type PasswdWriter struct {
	Runner execute.Runner
	// Chown hands the file to the container user. Defaults to os.Chown.
	Chown func(path string, uid, gid int) error
}

// NewPasswdWriter returns a writer that prefers mosquitto_passwd when present.
func NewPasswdWriter(runner execute.Runner) *PasswdWriter {
	return &PasswdWriter{Runner: runner, Chown: os.Chown}
}

// Write makes path hold exactly creds, hashed. A file whose entries already
// verify against creds is left alone, since every hash carries a fresh salt.
func (w *PasswdWriter) Write(ctx context.Context, path string, creds []Credential, uid, gid int) (fileops.Outcome, error) {
	logger := otelzap.Ctx(ctx)

	if w.current(path, creds) {
		logger.Debug("Password file already current", zap.String("path", path))
		if err := w.own(path, uid, gid); err != nil {
			return fileops.Unchanged, hearth_err.NewConfigWriteError(path, err)
		}
		return fileops.Unchanged, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), shared.DirPermStandard); err != nil {
		return fileops.Written, hearth_err.NewConfigWriteError(path, err)
	}

	var err error
	if tool, lookErr := w.Runner.LookPath(PasswdTool); lookErr == nil {
		logger.Info("Writing password file with mosquitto_passwd", zap.String("path", path), zap.String("tool", tool))
		err = w.writeWithTool(ctx, path, creds, uid, gid)
	} else {
		logger.Info("mosquitto_passwd not found, hashing natively", zap.String("path", path))
		err = w.writeNative(ctx, path, creds, uid, gid)
	}
	if err != nil {
		return fileops.Written, hearth_err.NewConfigWriteError(path, err)
	}
	return fileops.Written, nil
}

func (w *PasswdWriter) current(path string, creds []Credential) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if info, err := os.Stat(path); err != nil || info.Mode().Perm() != shared.FilePermOwnerReadWrite {
		return false
	}
	entries := ParsePasswdFile(data)
	if len(entries) != len(creds) {
		return false
	}
	for _, c := range creds {
		if !VerifyPassword(entries[c.Username], c.Password) {
			return false
		}
	}
	return true
}

func (w *PasswdWriter) writeWithTool(ctx context.Context, path string, creds []Credential, uid, gid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return cerr.Wrap(err, "failed to create temp password file")
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	for i, c := range creds {
		args := []string{"-b"}
		if i == 0 {
			args = append(args, "-c")
		}
		args = append(args, tmpPath, c.Username, c.Password)
		out, err := w.Runner.Run(ctx, execute.Options{
			Command: PasswdTool,
			Args:    args,
			Capture: true,
			Redact:  []string{c.Password},
		})
		if err != nil {
			return cerr.Wrapf(err, "mosquitto_passwd failed for user %s: %s", c.Username, hearth_err.ExtractSummary(out, 1))
		}
	}
	if err := os.Chmod(tmpPath, shared.FilePermOwnerReadWrite); err != nil {
		return cerr.Wrap(err, "failed to restrict password file")
	}
	if err := w.own(tmpPath, uid, gid); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cerr.Wrapf(err, "failed to rename password file into %s", path)
	}
	return nil
}

func (w *PasswdWriter) writeNative(ctx context.Context, path string, creds []Credential, uid, gid int) error {
	var buf bytes.Buffer
	for _, c := range creds {
		hash, err := HashPassword(c.Password)
		if err != nil {
			return err
		}
		buf.WriteString(c.Username + ":" + hash + "\n")
	}
	if err := fileops.WriteAtomic(ctx, path, buf.Bytes(), shared.FilePermOwnerReadWrite); err != nil {
		return err
	}
	return w.own(path, uid, gid)
}

func (w *PasswdWriter) own(path string, uid, gid int) error {
	if w.Chown == nil || (uid == 0 && gid == 0) {
		return nil
	}
	if err := w.Chown(path, uid, gid); err != nil {
		return cerr.Wrapf(err, "failed to chown %s to %d:%d", path, uid, gid)
	}
	return nil
}
