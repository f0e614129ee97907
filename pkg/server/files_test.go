package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoad(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	id, err := fs.Save([]byte("hello"))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	contents, err := fs.Load(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), contents)
}

func TestFileStoreLoadMissing(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Load(uuid.NewString())
	assert.Error(t, err)
}

func TestFileStoreRejectsNonUUID(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	// Arbitrary strings never reach the filesystem.
	_, err = fs.Load("../../etc/passwd")
	assert.Error(t, err)
}
