package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inboxguard/inboxguard/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestOpenFailsWithoutModelDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Dir = filepath.Join(t.TempDir(), "spam_model")

	a, err := Open(context.Background(), cfg, zap.NewNop(), "test")
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "model dir")
}

func TestOpenFailsWhenModelDirIsFile(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "spam_model")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	cfg.Model.Dir = path

	_, err := Open(context.Background(), cfg, nil, "test")
	assert.ErrorContains(t, err, "not a directory")
}

func TestOpenFailsOnIncompleteArtifactBeforeRuntime(t *testing.T) {
	cases := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{name: "no tokenizer or model", files: map[string]string{}, want: "load tokenizer"},
		{name: "no model file", files: map[string]string{"vocab.txt": "[PAD]\n[UNK]\n[CLS]\n[SEP]\n"}, want: "model file missing"},
		{name: "three labels", files: map[string]string{
			"vocab.txt":      "[PAD]\n[UNK]\n[CLS]\n[SEP]\n",
			"model.onnx":     "graph",
			"label_map.json": `["a","b","c"]`,
		}, want: "two-class"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tc.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
			}
			cfg := testConfig(t)
			cfg.Model.Dir = dir
			// Would fail with an "onnx runtime" error if initialization were reached.
			cfg.Runtime.SharedLibrary = filepath.Join(t.TempDir(), "libonnxruntime.so")

			a, err := Open(context.Background(), cfg, zap.NewNop(), "test")
			require.Error(t, err)
			assert.Nil(t, a)
			assert.Contains(t, err.Error(), "load model")
			assert.Contains(t, err.Error(), tc.want)
			assert.NotContains(t, err.Error(), "onnx runtime")
		})
	}
}

func TestCloseNil(t *testing.T) {
	var a *App
	assert.NoError(t, a.Close(context.Background()))
	assert.NoError(t, (&App{}).Close(context.Background()))
}
