package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ArtifactConfig mirrors the optional pipeline.yaml at the root of an artifact dir.
type ArtifactConfig struct {
	InputColumn  string          `yaml:"input_column"`
	OutputColumn string          `yaml:"output_column"`
	MaxTokens    int             `yaml:"max_tokens"`
	ONNX         ONNXConfig      `yaml:"onnx"`
	Tokenizer    TokenizerConfig `yaml:"tokenizer"`
}

type ONNXConfig struct {
	File   string `yaml:"file"`
	Output string `yaml:"output"`
}

type TokenizerConfig struct {
	Dir       string `yaml:"dir"`
	Lowercase *bool  `yaml:"lowercase"`
}

// LoadArtifactConfig reads dir/pipeline.yaml, returning defaults when it is absent.
func LoadArtifactConfig(dir string) (*ArtifactConfig, error) {
	var cfg ArtifactConfig
	data, err := os.ReadFile(filepath.Join(dir, "pipeline.yaml"))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode pipeline.yaml: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read pipeline.yaml: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *ArtifactConfig) applyDefaults() {
	if strings.TrimSpace(c.InputColumn) == "" {
		c.InputColumn = ColText
	}
	if strings.TrimSpace(c.OutputColumn) == "" {
		c.OutputColumn = ColPrediction
	}
	if strings.TrimSpace(c.ONNX.File) == "" {
		c.ONNX.File = "model.onnx"
	}
	if c.Tokenizer.Lowercase == nil {
		lower := true
		c.Tokenizer.Lowercase = &lower
	}
}

// modelPath picks the quantized graph when shipped next to the configured one.
func (c *ArtifactConfig) modelPath(dir string) (string, error) {
	rel, err := resolveArtifactPath(dir, c.ONNX.File)
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(filepath.Dir(rel), "model.int8.onnx"),
		rel,
		filepath.Join(dir, "model.onnx"),
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("model file missing at %s", rel)
}

func (c *ArtifactConfig) tokenizerDir(dir string) (string, error) {
	if strings.TrimSpace(c.Tokenizer.Dir) == "" {
		return dir, nil
	}
	return resolveArtifactPath(dir, c.Tokenizer.Dir)
}
