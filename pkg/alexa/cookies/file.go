package cookies

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const storageDir = ".storage"

// FileStore keeps one canonical JSON jar per account under
// <dir>/.storage/, and migrates jars found at legacy locations.
type FileStore struct {
	dir    string
	prefix string
	domain string
	now    func() time.Time
}

// NewFileStore roots the store at dir. Legacy jars without domain
// information are attributed to domain (e.g. "amazon.com").
func NewFileStore(dir string, domain string) *FileStore {
	return &FileStore{dir: dir, prefix: "myecho", domain: domain, now: time.Now}
}

func fileKey(account string) string {
	return strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_").Replace(account)
}

// Path is the canonical location of the account's jar.
func (s *FileStore) Path(account string) string {
	return filepath.Join(s.dir, storageDir, fmt.Sprintf("%s.%s.cookies.json", s.prefix, fileKey(account)))
}

// LegacyPaths are the locations older releases wrote to, most recent first.
func (s *FileStore) LegacyPaths(account string) []string {
	key := fileKey(account)
	return []string{
		filepath.Join(s.dir, storageDir, fmt.Sprintf("%s.%s.cookies.txt", s.prefix, key)),
		filepath.Join(s.dir, fmt.Sprintf("%s.%s.cookies", s.prefix, key)),
	}
}

// Load returns the canonical jar. When only a legacy jar exists it is
// rewritten at the canonical path and the legacy file removed.
func (s *FileStore) Load(ctx context.Context, account string) ([]Record, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("cookies")

	records, err := s.readCanonical(account)
	if err == nil {
		s.removeLegacy(log, account)
		return records, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	records, path, format, err := s.readLegacy(account)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, account, records); err != nil {
		return nil, fmt.Errorf("cookies: migrate %s: %w", path, err)
	}
	log.Info("Migrated legacy cookie jar", "from", path, "format", format.String(), "to", s.Path(account), "count", len(records))
	return records, nil
}

func (s *FileStore) readCanonical(account string) ([]Record, error) {
	data, err := os.ReadFile(s.Path(account))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// an older release may have written a legacy format at this path
	records, _, err := Parse(data, s.domain)
	return records, err
}

// readLegacy returns the first parseable legacy jar.
func (s *FileStore) readLegacy(account string) ([]Record, string, Format, error) {
	var firstErr error
	for _, path := range s.LegacyPaths(account) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, path, FormatUnknown, err
		}
		records, format, err := Parse(data, s.domain)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", path, err)
			}
			continue
		}
		return records, path, format, nil
	}
	if firstErr != nil {
		return nil, "", FormatUnknown, firstErr
	}
	return nil, "", FormatUnknown, ErrNotFound
}

func (s *FileStore) removeLegacy(log logr.Logger, account string) {
	for _, path := range s.LegacyPaths(account) {
		err := os.Remove(path)
		if err == nil {
			log.V(1).Info("Removed legacy cookie jar", "path", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			log.Error(err, "Failed to remove legacy cookie jar", "path", path)
		}
	}
}

// Save writes the canonical jar atomically with owner-only permissions and
// removes any legacy jar of the account.
func (s *FileStore) Save(ctx context.Context, account string, records []Record) error {
	log := logr.FromContextOrDiscard(ctx).WithName("cookies")
	path := s.Path(account)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := marshal(account, records, s.now())
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jar-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	s.removeLegacy(log, account)
	return nil
}

// Delete removes the canonical and every legacy jar of the account.
func (s *FileStore) Delete(ctx context.Context, account string) error {
	var errs []error
	for _, path := range append([]string{s.Path(account)}, s.LegacyPaths(account)...) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
