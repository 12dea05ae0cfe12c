package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/micro-ha/transmission-sync/internal/client"
	"github.com/micro-ha/transmission-sync/internal/model"
)

type stubDownloader struct {
	blob client.Blob
	err  error
}

func (s stubDownloader) ExportHistory(context.Context, model.DeviceID, string) (client.Blob, error) {
	return s.blob, s.err
}

func TestSaveWritesBlob(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	w := Writer{Dir: dir}

	path, err := w.Save(context.Background(), stubDownloader{blob: client.Blob{
		Data:     []byte("id,status\n1,SUCCESS\n"),
		Filename: "device_42_history.csv",
	}}, "42", "csv")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "device_42_history.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "id,status\n1,SUCCESS\n", string(data))
}

func TestWriteKeepsFilenameInsideDir(t *testing.T) {
	dir := t.TempDir()
	path, err := Writer{Dir: dir}.Write(client.Blob{Data: []byte("x"), Filename: "../../etc/passwd"})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "passwd"), path)

	_, err = Writer{Dir: dir}.Write(client.Blob{Data: []byte("x"), Filename: ".."})
	require.Error(t, err)
}

func TestSaveWrapsDownloadError(t *testing.T) {
	cause := &client.BusinessError{Status: 400, Message: "Unsupported export format"}
	_, err := Writer{Dir: t.TempDir()}.Save(context.Background(), stubDownloader{err: cause}, "42", "xlsx")

	var business *client.BusinessError
	require.True(t, errors.As(err, &business))
	require.Equal(t, "Unsupported export format", business.Message)
}
