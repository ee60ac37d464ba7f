package gomssql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracker1/gomssql/internal/testutil"
)

func TestFileStream_Unavailable(t *testing.T) {
	f := testutil.NewFake()
	f.Filestream = false

	assert.False(t, FileStreamAvailable(f))
	_, err := OpenFileStream(f, `\\srv\db\v1\f1`, []byte{1, 2}, FileStreamRead)
	require.ErrorIs(t, err, ErrFilestreamUnavailable)
}

func TestFileStream_WriteReadRoundTrip(t *testing.T) {
	f := testutil.NewFake()

	w, err := OpenFileStream(f, `\\srv\db\v1\f1`, []byte{1, 2}, FileStreamWrite)
	require.NoError(t, err)
	n, err := w.Write([]byte("hello filestream"))
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	require.NoError(t, w.Close())

	r, err := OpenFileStream(f, `\\srv\db\v1\f1`, []byte{1, 2}, FileStreamRead)
	require.NoError(t, err)
	defer r.Close()

	head, err := r.Read(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), head)

	rest, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte(" filestream"), rest)
}

func TestFileStream_ReadSizeMustBePositive(t *testing.T) {
	f := testutil.NewFake()
	fs, err := OpenFileStream(f, `\\srv\db\v1\f1`, nil, FileStreamRead)
	require.NoError(t, err)
	defer fs.Close()

	_, err = fs.Read(0)
	require.Error(t, err)
	_, err = fs.Read(-1)
	require.Error(t, err)
}

func TestFileStream_UseAfterClose(t *testing.T) {
	f := testutil.NewFake()
	fs, err := OpenFileStream(f, `\\srv\db\v1\f1`, nil, FileStreamReadWrite)
	require.NoError(t, err)

	require.NoError(t, fs.Close())
	require.NoError(t, fs.Close())
	assert.Equal(t, 1, f.CallCount("fs.close"))

	_, err = fs.ReadAll()
	require.ErrorIs(t, err, ErrFilestreamClosed)
	_, err = fs.Write([]byte("x"))
	require.ErrorIs(t, err, ErrFilestreamClosed)
}

func TestFileStream_EmptyWrite(t *testing.T) {
	f := testutil.NewFake()
	fs, err := OpenFileStream(f, `\\srv\db\v1\f1`, nil, FileStreamWrite)
	require.NoError(t, err)
	defer fs.Close()

	n, err := fs.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
