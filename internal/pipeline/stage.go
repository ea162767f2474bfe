package pipeline

import (
	"context"
	"fmt"
)

// Pipeline turns an input frame into an augmented output frame.
type Pipeline interface {
	Transform(ctx context.Context, in Frame) (Frame, error)
}

// Stage is one step of a Chain.
type Stage interface {
	Name() string
	Transform(ctx context.Context, in Frame) (Frame, error)
}

// Columns is implemented by pipelines that read and write non-default column names.
type Columns interface {
	InputColumn() string
	OutputColumn() string
}

// Chain runs its stages in order, feeding each output to the next stage.
type Chain []Stage

func (c Chain) Transform(ctx context.Context, in Frame) (Frame, error) {
	cur := in
	for _, s := range c {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		out, err := s.Transform(ctx, cur)
		if err != nil {
			return Frame{}, fmt.Errorf("stage %s: %w", s.Name(), err)
		}
		cur = out
	}
	return cur, nil
}
