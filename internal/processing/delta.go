package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-kit/log/level"

	"github.com/five82/framegate/internal/delta"
	"github.com/five82/framegate/internal/imageio"
)

var errNoConnection = errors.New("empty connection id")

// DeltaResult is the outcome of EncodeDelta.
type DeltaResult struct {
	// Payload is the input frame for keyframes, a base64 JPEG for deltas and
	// delta.NoChangePayload when nothing changed.
	Payload        string     `json:"payload"`
	Kind           delta.Kind `json:"-"`
	IsKeyframe     bool       `json:"is_keyframe"`
	ChangedPercent int        `json:"changed_percent"`
	Fallback       bool       `json:"fallback,omitempty"`
}

// EncodeDelta delta-encodes frame against the previous frame of connID. Frames of one
// connection must be submitted in order. Delta encoding is not admission-gated.
func (p *Pipeline) EncodeDelta(ctx context.Context, connID, frame string) (DeltaResult, error) {
	if err := ctx.Err(); err != nil {
		return DeltaResult{}, err
	}
	if connID == "" {
		return DeltaResult{}, p.invalidInput(frame, errNoConnection)
	}
	in, err := imageio.ParseFrame(frame)
	if err != nil {
		return DeltaResult{}, p.invalidInput(frame, err)
	}

	res, err := p.codec.Encode(connID, in.Data)
	switch {
	case errors.Is(err, imageio.ErrInvalidFrame):
		return DeltaResult{}, p.invalidInput(frame, err)
	case err != nil:
		// The client gets the whole frame; start the connection over so the next
		// frame is a keyframe too.
		p.codec.Reset(connID)
		p.failed.Add(1)
		p.metrics.Fallbacks.Inc()
		_ = level.Warn(p.logger).Log("msg", "delta encoding failed, sending full frame", "conn", connID, "err", err)
		p.rep.Warning(fmt.Sprintf("Delta encoding failed for %s, sending full frame: %v", connID, err))
		return DeltaResult{Payload: frame, Kind: delta.Keyframe, IsKeyframe: true, ChangedPercent: 100, Fallback: true}, nil
	}

	p.metrics.DeltaFrames.WithLabelValues(res.Kind.String()).Inc()
	out := DeltaResult{Kind: res.Kind, IsKeyframe: res.IsKeyframe(), ChangedPercent: res.ChangedPercent}
	switch res.Kind {
	case delta.Keyframe:
		out.Payload = frame
	case delta.Delta:
		out.Payload = imageio.FormatFrame(in.Prefix, res.Payload)
	default:
		out.Payload = delta.NoChangePayload
	}
	return out, nil
}

// ResetDelta forgets the reference frame of connID. The next frame is a keyframe.
func (p *Pipeline) ResetDelta(connID string) {
	p.codec.Reset(connID)
}
