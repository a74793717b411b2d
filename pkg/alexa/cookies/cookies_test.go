package cookies

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "someone@example.com"

func testContext(t *testing.T) context.Context {
	return logr.NewContext(context.Background(), testr.New(t))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
		want   map[string]string
	}{
		{"flat json", `{"session-id":"123","ubid-main":"456"}`, FormatFlatJSON, map[string]string{"session-id": "123", "ubid-main": "456"}},
		{"header", "session-id=123; ubid-main=456;", FormatHeader, map[string]string{"session-id": "123", "ubid-main": "456"}},
		{"header with prefix", "Cookie: a=b", FormatHeader, map[string]string{"a": "b"}},
		{"netscape", "# Netscape HTTP Cookie File\n.amazon.com\tTRUE\t/\tTRUE\t2000000000\tsession-id\t123\n#HttpOnly_.amazon.com\tTRUE\t/\tFALSE\t0\tat-main\tAtza\n", FormatNetscape, map[string]string{"session-id": "123", "at-main": "Atza"}},
		{"canonical", `{"version":1,"account":"x","saved_at":"2024-01-01T00:00:00Z","cookies":[{"name":"csrf","value":"1","domain":"amazon.com"}]}`, FormatCanonical, map[string]string{"csrf": "1"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			records, format, err := Parse([]byte(tc.data), "amazon.com")
			require.NoError(t, err)
			assert.Equal(t, tc.format, format)
			assert.Equal(t, tc.want, Map(records))
			for _, r := range records {
				assert.NotEmpty(t, r.Domain)
			}
		})
	}

	_, _, err := Parse([]byte(`{"version":9,"cookies":[]}`), "")
	assert.Error(t, err)
	_, _, err = Parse([]byte("   "), "")
	assert.Error(t, err)
	_, _, err = Parse([]byte("novalue"), "")
	assert.Error(t, err)
}

func TestNetscapeAttributes(t *testing.T) {
	records, _, err := Parse([]byte("#HttpOnly_.amazon.com\tTRUE\t/ap\tTRUE\t2000000000\tx\ty\n"), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.True(t, r.HTTPOnly)
	assert.True(t, r.Secure)
	assert.Equal(t, "/ap", r.Path)
	require.NotNil(t, r.Expires)
	assert.Equal(t, int64(2000000000), r.Expires.Unix())
	assert.Equal(t, int64(2000000000), r.HTTP().Expires.Unix())
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := testContext(t)
	s := NewFileStore(t.TempDir(), "amazon.com")

	_, err := s.Load(ctx, account)
	require.ErrorIs(t, err, ErrNotFound)

	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	in := []Record{{Name: "session-id", Value: "1", Domain: ".amazon.com", Path: "/", Expires: &exp, Secure: true}}
	require.NoError(t, s.Save(ctx, account, in))

	fi, err := os.Stat(s.Path(account))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	out, err := s.Load(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	require.NoError(t, s.Delete(ctx, account))
	_, err = s.Load(ctx, account)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreMigratesLegacy(t *testing.T) {
	for i, legacy := range []string{`{"session-id":"123","csrf":"42"}`, "session-id=123; csrf=42"} {
		ctx := testContext(t)
		dir := t.TempDir()
		s := NewFileStore(dir, "amazon.com")

		path := s.LegacyPaths(account)[i%2]
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

		records, err := s.Load(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"session-id": "123", "csrf": "42"}, Map(records))

		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err), "legacy file must be removed")

		data, err := os.ReadFile(s.Path(account))
		require.NoError(t, err)
		_, format, err := Parse(data, "")
		require.NoError(t, err)
		assert.Equal(t, FormatCanonical, format)
	}
}

func TestFileStoreKeepsUnreadableLegacy(t *testing.T) {
	ctx := testContext(t)
	s := NewFileStore(t.TempDir(), "amazon.com")
	path := s.LegacyPaths(account)[1]
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := s.Load(ctx, account)
	require.Error(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLiteStore(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()
	files := NewFileStore(dir, "amazon.com")

	s, err := NewSQLiteStore(testr.New(t), filepath.Join(dir, "myecho.db"), files)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	in := FromMap(map[string]string{"a": "1", "b": "2"}, "amazon.com")
	require.NoError(t, s.Save(ctx, account, in))
	require.NoError(t, s.Save(ctx, account, in[:1]))
	out, err := s.Load(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, in[:1], out)

	require.NoError(t, s.Delete(ctx, account))
	_, err = s.Load(ctx, account)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreImportsLegacyFile(t *testing.T) {
	ctx := testContext(t)
	dir := t.TempDir()
	files := NewFileStore(dir, "amazon.com")
	legacy := files.LegacyPaths(account)[1]
	require.NoError(t, os.WriteFile(legacy, []byte(`{"ubid-main":"9"}`), 0o600))

	s, err := NewSQLiteStore(testr.New(t), filepath.Join(dir, "myecho.db"), files)
	require.NoError(t, err)
	defer s.Close()

	records, err := s.Load(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ubid-main": "9"}, Map(records))

	for _, p := range append(files.LegacyPaths(account), files.Path(account)) {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}

	// now served from the table
	records, err = s.Load(ctx, account)
	require.NoError(t, err)
	assert.Equal(t, "9", Map(records)["ubid-main"])
}
