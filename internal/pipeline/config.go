package pipeline

import (
	"fmt"

	"github.com/skypro1111/hpsdr-server/internal/audio"
	"github.com/skypro1111/hpsdr-server/internal/protocol"
)

const (
	MaxTX = 1

	// TXChannel is the DSP channel used for the transmitter. Receivers use
	// channels 0..MaxReceivers-1.
	TXChannel = protocol.MaxReceivers

	numDSPChannels = protocol.MaxReceivers + MaxTX

	// ringBlocks is how many blocks each ring can hold.
	ringBlocks = 8
)

// Config holds the stream geometry the pipeline is sized from.
type Config struct {
	NumRX    int
	NumTX    int
	InRate   int
	OutRate  int
	IQBlock  int // IQ samples per receiver per cycle
	MicBlock int // mic samples per cycle
}

// DefaultConfig returns one receiver, one transmitter at 48 kHz with
// 1024 sample blocks.
func DefaultConfig() Config {
	return Config{
		NumRX:    1,
		NumTX:    1,
		InRate:   48000,
		OutRate:  48000,
		IQBlock:  1024,
		MicBlock: 1024,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.NumRX < 1 || c.NumRX > protocol.MaxReceivers {
		return fmt.Errorf("num_rx must be between 1 and %d, got %d", protocol.MaxReceivers, c.NumRX)
	}
	if c.NumTX < 0 || c.NumTX > MaxTX {
		return fmt.Errorf("num_tx must be between 0 and %d, got %d", MaxTX, c.NumTX)
	}
	if _, err := protocol.RateMultiplier(c.InRate); err != nil {
		return fmt.Errorf("in_rate: %w", err)
	}
	if c.OutRate <= 0 || c.OutRate > c.InRate {
		return fmt.Errorf("out_rate must be between 1 and in_rate %d, got %d", c.InRate, c.OutRate)
	}
	if c.IQBlock <= 0 {
		return fmt.Errorf("iq_block must be positive, got %d", c.IQBlock)
	}
	if c.MicBlock <= 0 {
		return fmt.Errorf("mic_block must be positive, got %d", c.MicBlock)
	}
	return nil
}

// Sizes are the byte and element counts derived from a Config.
type Sizes struct {
	InIQ   int `json:"in_iq"`   // bytes read from the IQ ring per cycle
	InMic  int `json:"in_mic"`  // bytes read from the mic ring per cycle
	DecIQ  int `json:"dec_iq"`  // float64 values per receiver after decode
	DecMic int `json:"dec_mic"` // float64 values of mic after decode
	DSPLR  int `json:"dsp_lr"`  // float64 L/R values per receiver after exchange
	DSPIQ  int `json:"dsp_iq"`  // float64 TX I/Q values after exchange
	Out    int `json:"out"`     // bytes written to the out ring per cycle

	IQRing   int `json:"iq_ring"`
	MicRing  int `json:"mic_ring"`
	OutRing  int `json:"out_ring"`
	SinkRing int `json:"sink_ring"`
}

// Sizes derives the block and ring sizes.
func (c Config) Sizes() Sizes {
	s := Sizes{
		InIQ:   c.IQBlock * c.NumRX * protocol.IQBytes,
		InMic:  c.MicBlock * protocol.MicBytes,
		DecIQ:  c.IQBlock * 2,
		DecMic: c.MicBlock * 2,
		DSPLR:  c.IQBlock * 2 * c.OutRate / c.InRate,
		DSPIQ:  c.MicBlock * 2,
	}
	s.Out = c.IQBlock*4*c.OutRate/c.InRate + c.MicBlock*4

	s.IQRing = audio.NextPowerOfTwo(c.NumRX * c.IQBlock * protocol.IQBytes * ringBlocks)
	s.MicRing = audio.NextPowerOfTwo(max(c.NumTX, 1) * c.MicBlock * protocol.MicBytes * ringBlocks)
	s.OutRing = s.IQRing
	s.SinkRing = audio.NextPowerOfTwo(s.DSPLR * 2 * ringBlocks)
	return s
}

// Consistent reports whether demodulated audio and transmit IQ blocks have
// the same length, which encoding the outgoing stream requires.
func (s Sizes) Consistent() bool {
	return s.DSPLR == s.DSPIQ
}
