package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesToOutputPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, err := New(Config{Level: "debug", OutputPaths: []string{path}})
	require.NoError(t, err)

	ctx := WithRequestID(context.Background(), "req-1")
	log.With("remote", "10.0.0.1").WithContext(ctx).Infow("hello")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"remote":"10.0.0.1"`)
	assert.Contains(t, string(data), `"request_id":"req-1"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := Nop()
	ctx := WithLogger(context.Background(), l)
	assert.Equal(t, l.SugaredLogger, FromContext(ctx).SugaredLogger)
}
