package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObjectStoresCopy(t *testing.T) {
	t.Parallel()

	s := New()
	data := []byte("screenshot")
	uri, err := s.PutObject(context.Background(), "screenshots/a.png", "image/png", data)
	require.NoError(t, err)
	require.Equal(t, "mem://screenshots/a.png", uri)

	data[0] = 'X'
	obj, ok := s.Object("screenshots/a.png")
	require.True(t, ok)
	require.Equal(t, []byte("screenshot"), obj.Data)
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, 1, s.Len())
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New().PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
