package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LoadOptions tune how an artifact directory is turned into a Model.
type LoadOptions struct {
	Name string
	// MaxTokens is used when pipeline.yaml does not pin a sequence length.
	MaxTokens int
}

// Model is a loaded, ready-to-run classification pipeline.
type Model struct {
	name      string
	dir       string
	labels    []string
	inputCol  string
	outputCol string
	maxTokens int
	verified  bool

	chain Chain
	onnx  *ONNXStage

	closeOnce sync.Once
}

// Artifact is a checked artifact directory: everything a Model needs except
// the inference sessions.
type Artifact struct {
	Dir       string
	Name      string
	Labels    []string
	MaxTokens int
	Verified  bool

	cfg       *ArtifactConfig
	tokenizer *WordPiece
	modelPath string
}

// Inspect validates an artifact directory without touching the native runtime:
// manifest checksums, pipeline.yaml, label map, tokenizer and model file.
func Inspect(dir string, opts LoadOptions) (*Artifact, error) {
	dir = strings.TrimSpace(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("model dir %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model dir %s is not a directory", dir)
	}

	verified, err := VerifyManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("verify artifact: %w", err)
	}

	acfg, err := LoadArtifactConfig(dir)
	if err != nil {
		return nil, err
	}

	labels, err := loadLabels(filepath.Join(dir, "label_map.json"))
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if err := requireBinary(labels, 2); err != nil {
		return nil, err
	}

	maxTokens := opts.MaxTokens
	if acfg.MaxTokens > 0 {
		maxTokens = acfg.MaxTokens
	}
	if maxTokens < 2 {
		return nil, fmt.Errorf("max tokens must be at least 2, got %d", maxTokens)
	}

	tokDir, err := acfg.tokenizerDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tokenizer dir: %w", err)
	}
	tok, err := LoadTokenizer(tokDir, *acfg.Tokenizer.Lowercase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	modelPath, err := acfg.modelPath(dir)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = filepath.Base(dir)
	}

	return &Artifact{
		Dir:       dir,
		Name:      name,
		Labels:    labels,
		MaxTokens: maxTokens,
		Verified:  verified,
		cfg:       acfg,
		tokenizer: tok,
		modelPath: modelPath,
	}, nil
}

// Load inspects dir and builds tokenize -> onnx -> predict.
// Anything other than a two-class artifact is rejected.
func Load(rt *Runtime, dir string, opts LoadOptions) (*Model, error) {
	if rt == nil {
		return nil, errors.New("runtime is nil")
	}
	art, err := Inspect(dir, opts)
	if err != nil {
		return nil, err
	}
	return LoadArtifact(rt, art)
}

// LoadArtifact creates the inference sessions for an inspected artifact.
func LoadArtifact(rt *Runtime, art *Artifact) (*Model, error) {
	if rt == nil {
		return nil, errors.New("runtime is nil")
	}
	if art == nil {
		return nil, errors.New("artifact is nil")
	}

	onnx, err := newONNXStage(rt, art.modelPath, art.MaxTokens, art.cfg.ONNX.Output, len(art.Labels))
	if err != nil {
		return nil, err
	}
	if err := requireBinary(art.Labels, onnx.width); err != nil {
		onnx.Close()
		return nil, err
	}

	return &Model{
		name:      art.Name,
		dir:       art.Dir,
		labels:    art.Labels,
		inputCol:  art.cfg.InputColumn,
		outputCol: art.cfg.OutputColumn,
		maxTokens: art.MaxTokens,
		verified:  art.Verified,
		onnx:      onnx,
		chain: Chain{
			&TokenizeStage{Tokenizer: art.tokenizer, InputCol: art.cfg.InputColumn, MaxTokens: art.MaxTokens},
			onnx,
			&PredictStage{PredictionCol: art.cfg.OutputColumn},
		},
	}, nil
}

// NewModel assembles a Model from arbitrary stages. The last stage must write
// an integer label index into the prediction column.
func NewModel(name string, labels []string, stages ...Stage) (*Model, error) {
	if err := requireBinary(labels, 2); err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, errors.New("model needs at least one stage")
	}
	return &Model{
		name:      name,
		labels:    append([]string(nil), labels...),
		inputCol:  ColText,
		outputCol: ColPrediction,
		chain:     Chain(stages),
	}, nil
}

func (m *Model) Transform(ctx context.Context, in Frame) (Frame, error) {
	return m.chain.Transform(ctx, in)
}

func (m *Model) InputColumn() string  { return m.inputCol }
func (m *Model) OutputColumn() string { return m.outputCol }

// Name identifies the model in logs and readiness output.
func (m *Model) Name() string { return m.name }

// Dir is the artifact directory the model was loaded from; empty for NewModel.
func (m *Model) Dir() string { return m.dir }

// Labels returns the artifact's class names indexed by label.
func (m *Model) Labels() []string { return append([]string(nil), m.labels...) }

// MaxTokens is the fixed sequence length fed to the graph.
func (m *Model) MaxTokens() int { return m.maxTokens }

// ManifestVerified reports whether a manifest.json was present and matched.
func (m *Model) ManifestVerified() bool { return m.verified }

// Busy reports how many inference slots are in use.
func (m *Model) Busy() int {
	if m.onnx == nil {
		return 0
	}
	return m.onnx.Busy()
}

// Warmup runs one throwaway prediction so the first request does not pay
// for lazy allocation inside the runtime.
func (m *Model) Warmup(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	out, err := m.Transform(ctx, NewFrame(m.inputCol, "warmup"))
	if err != nil {
		return 0, fmt.Errorf("warmup: %w", err)
	}
	if _, err := out.Value(0, m.outputCol); err != nil {
		return 0, fmt.Errorf("warmup: %w", err)
	}
	return time.Since(start), nil
}

// Close releases the inference sessions. It is safe to call more than once.
func (m *Model) Close() error {
	var err error
	m.closeOnce.Do(func() {
		if m.onnx != nil {
			err = m.onnx.Close()
		}
	})
	return err
}
