package aggregator

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileUpload_SendsFileNotList(t *testing.T) {
	t.Parallel()
	calls := 0
	c := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, AggregateFilePath, r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "list.csv", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "a.com,b.com\nc.com", string(data))
		_, _ = io.WriteString(w, `{"results":[{"domain":"a.com"},{"domain":"c.com"}]}`)
	})

	up := c.Upload("list.csv", []byte("a.com,b.com\nc.com"))
	assert.Equal(t, "list.csv", up.Name())

	items, err := up.Aggregate(context.Background(), []string{"ignored.example"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c.com", items[1].Domain)

	// the payload is replayable
	_, err = up.Aggregate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFileUpload_Errors(t *testing.T) {
	t.Parallel()
	down := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := down.Upload("list.txt", []byte("a.com")).Aggregate(context.Background(), nil)
	assert.True(t, IsTransport(err))
	assert.Equal(t, http.StatusBadGateway, StatusCode(err))

	junk := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[]} junk`)
	})
	_, err = junk.Upload("list.txt", []byte("a.com")).Aggregate(context.Background(), nil)
	assert.True(t, IsMalformed(err))
}
