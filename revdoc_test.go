package revdoc_test

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	revdoc "github.com/i5heu/ouroboros-revdoc"
	"github.com/i5heu/ouroboros-revdoc/internal/dbconfig"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenRequiresAtLeastOnePath(t *testing.T) {
	_, err := revdoc.Open(revdoc.Config{Logger: discardLogger()})
	assert.ErrorIs(t, err, revdoc.ErrNoPaths)
}

func TestOpenRefusesMissingDirWithoutCreate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := revdoc.Open(revdoc.Config{
		Paths:  []string{dir},
		Logger: discardLogger(),
	})
	assert.ErrorIs(t, err, revdoc.ErrNotCreating)
}

func TestOpenCreatesAndClosesTreeSchemeDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := revdoc.Open(revdoc.Config{
		Paths:  []string{dir},
		Logger: discardLogger(),
		Options: revdoc.Options{
			Create:           true,
			VersioningScheme: dbconfig.SchemeTreeV2,
		},
	})
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.NoError(t, db.Close())
	// Close is idempotent.
	assert.NoError(t, db.Close())
}

func TestOpenPersistsPeerIDAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := revdoc.Config{
		Paths:  []string{dir},
		Logger: discardLogger(),
		Options: revdoc.Options{
			Create:           true,
			VersioningScheme: dbconfig.SchemeVector,
		},
	}

	db1, err := revdoc.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db1.Close())

	peerFile := filepath.Join(dir, "peerid")
	assert.FileExists(t, peerFile)

	db2, err := revdoc.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db2.Close())
}

func TestSetGenerateOldStyleRevIDsRejectedAfterOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := revdoc.Open(revdoc.Config{
		Paths:  []string{dir},
		Logger: discardLogger(),
		Options: revdoc.Options{
			Create:           true,
			VersioningScheme: dbconfig.SchemeTreeV2,
		},
	})
	require.NoError(t, err)
	defer db.Close()

	err = revdoc.SetGenerateOldStyleRevIDs(true)
	assert.Error(t, err)
}
