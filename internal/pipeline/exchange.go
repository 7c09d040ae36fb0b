package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// Exchanger is a DSP engine. Exchange consumes one block of interleaved
// complex input for a channel and fills out with the processed block:
// stereo audio for receiver channels, modulated IQ for TXChannel. The
// lengths of in and out follow the rate ratio of the configured stream.
type Exchanger interface {
	Exchange(channel int, in, out []float64) error
}

// ExchangeError reports a nonzero engine result. The output buffer holds
// whatever the engine produced.
type ExchangeError struct {
	Channel int
	Code    int
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("dsp channel %d: exchange error %d", e.Channel, e.Code)
}

// NewExchanger returns a built-in engine by name.
func NewExchanger(name string) (Exchanger, error) {
	switch strings.ToLower(name) {
	case "passthrough", "":
		return Passthrough{}, nil
	case "envelope":
		return Envelope{}, nil
	default:
		return nil, fmt.Errorf("unknown dsp engine %q", name)
	}
}

// Passthrough copies complex samples straight through, decimating by
// nearest sample when the output block is shorter. A receiver's I lands on
// the left channel and Q on the right.
type Passthrough struct{}

func (Passthrough) Exchange(channel int, in, out []float64) error {
	resample(in, out, func(i, q float64) (float64, float64) { return i, q })
	return nil
}

// Envelope is an AM detector for receiver channels: both audio channels
// carry the magnitude of the IQ sample. The transmit channel is passed
// through.
type Envelope struct{}

func (Envelope) Exchange(channel int, in, out []float64) error {
	if channel == TXChannel {
		return Passthrough{}.Exchange(channel, in, out)
	}
	resample(in, out, func(i, q float64) (float64, float64) {
		m := math.Hypot(i, q)
		return m, m
	})
	return nil
}

func resample(in, out []float64, f func(i, q float64) (float64, float64)) {
	nIn, nOut := len(in)/2, len(out)/2
	if nIn == 0 {
		clear(out)
		return
	}
	for k := 0; k < nOut; k++ {
		src := k * nIn / nOut
		out[2*k], out[2*k+1] = f(in[2*src], in[2*src+1])
	}
}
