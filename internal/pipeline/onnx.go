package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	inputIDsName      = "input_ids"
	attentionMaskName = "attention_mask"
	tokenTypeIDsName  = "token_type_ids"
)

type onnxSession struct {
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func (s *onnxSession) destroy() {
	if s == nil {
		return
	}
	if s.session != nil {
		_ = s.session.Destroy()
	}
	for _, t := range []*ort.Tensor[int64]{s.inputIDs, s.attentionMask, s.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if s.output != nil {
		_ = s.output.Destroy()
	}
}

// ONNXStage runs a sequence-classification graph and adds a logits column.
// Sessions are pre-built; each call holds one of them for the duration of Run.
type ONNXStage struct {
	sessions *pool[*onnxSession]
	all      []*onnxSession
	seqLen   int
	width    int
}

func newONNXStage(rt *Runtime, modelPath string, seqLen int, outputName string, fallbackWidth int) (*ONNXStage, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect onnx model: %w", err)
	}
	inputNames, err := selectInputs(inputs)
	if err != nil {
		return nil, err
	}
	outName, dims, err := selectOutput(outputs, outputName)
	if err != nil {
		return nil, err
	}
	width := outputWidth(dims, fallbackWidth)

	stage := &ONNXStage{seqLen: seqLen, width: width}
	for i := 0; i < rt.Workers(); i++ {
		s, err := newONNXSession(rt, modelPath, seqLen, width, inputNames, outName)
		if err != nil {
			stage.Close()
			return nil, fmt.Errorf("create onnx session %d/%d: %w", i+1, rt.Workers(), err)
		}
		stage.all = append(stage.all, s)
	}
	stage.sessions = newPool(stage.all)
	return stage, nil
}

func newONNXSession(rt *Runtime, modelPath string, seqLen, width int, inputNames []string, outputName string) (*onnxSession, error) {
	opts, err := rt.sessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	s := &onnxSession{}
	inputShape := ort.NewShape(1, int64(seqLen))
	if s.inputIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		return nil, fmt.Errorf("allocate input_ids tensor: %w", err)
	}
	if s.attentionMask, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
		s.destroy()
		return nil, fmt.Errorf("allocate attention_mask tensor: %w", err)
	}
	inputValues := []ort.Value{s.inputIDs, s.attentionMask}
	if slices.Contains(inputNames, tokenTypeIDsName) {
		// All zeros: single-segment input.
		if s.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inputShape); err != nil {
			s.destroy()
			return nil, fmt.Errorf("allocate token_type_ids tensor: %w", err)
		}
		inputValues = append(inputValues, s.tokenTypeIDs)
	}
	if s.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(width))); err != nil {
		s.destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	s.session, err = ort.NewAdvancedSession(
		modelPath,
		inputNames,
		[]string{outputName},
		inputValues,
		[]ort.Value{s.output},
		opts,
	)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return s, nil
}

// selectInputs returns the graph inputs in the order tensors are bound.
func selectInputs(inputs []ort.InputOutputInfo) ([]string, error) {
	have := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		have[in.Name] = true
	}
	for _, required := range []string{inputIDsName, attentionMaskName} {
		if !have[required] {
			return nil, fmt.Errorf("onnx model has no %s input (inputs: %v)", required, infoNames(inputs))
		}
	}
	names := []string{inputIDsName, attentionMaskName}
	if have[tokenTypeIDsName] {
		names = append(names, tokenTypeIDsName)
	}
	if len(have) > len(names) {
		return nil, fmt.Errorf("onnx model has unsupported inputs: %v", infoNames(inputs))
	}
	return names, nil
}

// selectOutput picks the wanted output, then "logits", then the only output.
func selectOutput(outputs []ort.InputOutputInfo, want string) (string, []int64, error) {
	if len(outputs) == 0 {
		return "", nil, errors.New("onnx model has no outputs")
	}
	if want = strings.TrimSpace(want); want != "" {
		for _, out := range outputs {
			if out.Name == want {
				return out.Name, out.Dimensions, nil
			}
		}
		return "", nil, fmt.Errorf("onnx model has no output %q (outputs: %v)", want, infoNames(outputs))
	}
	for _, out := range outputs {
		if strings.EqualFold(out.Name, "logits") {
			return out.Name, out.Dimensions, nil
		}
	}
	if len(outputs) == 1 {
		return outputs[0].Name, outputs[0].Dimensions, nil
	}
	return "", nil, fmt.Errorf("multiple outputs found without logits: %v", infoNames(outputs))
}

// outputWidth reads the class dimension, falling back when it is dynamic.
func outputWidth(dims []int64, fallback int) int {
	if len(dims) > 0 {
		if last := dims[len(dims)-1]; last > 0 {
			return int(last)
		}
	}
	return fallback
}

func infoNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, 0, len(infos))
	for _, in := range infos {
		names = append(names, in.Name)
	}
	return names
}

func (s *ONNXStage) Name() string { return "onnx" }

func (s *ONNXStage) Transform(ctx context.Context, in Frame) (Frame, error) {
	return in.WithColumn(ColLogits, func(r Row) (any, error) {
		ids, err := int64sCell(r, ColInputIDs)
		if err != nil {
			return nil, err
		}
		mask, err := int64sCell(r, ColAttentionMask)
		if err != nil {
			return nil, err
		}
		if len(ids) != s.seqLen || len(mask) != s.seqLen {
			return nil, fmt.Errorf("input length %d does not match session length %d", len(ids), s.seqLen)
		}
		return s.run(ctx, ids, mask)
	})
}

func (s *ONNXStage) run(ctx context.Context, ids, mask []int64) ([]float32, error) {
	sess, err := s.sessions.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.sessions.release(sess)

	copy(sess.inputIDs.GetData(), ids)
	copy(sess.attentionMask.GetData(), mask)
	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return slices.Clone(sess.output.GetData()), nil
}

// Busy reports how many sessions are running right now.
func (s *ONNXStage) Busy() int {
	if s == nil || s.sessions == nil {
		return 0
	}
	return s.sessions.busy()
}

// Close destroys all sessions. Callers must ensure no Transform is in flight.
func (s *ONNXStage) Close() error {
	for _, sess := range s.all {
		sess.destroy()
	}
	s.all = nil
	return nil
}
