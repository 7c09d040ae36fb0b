// Package pipeline implements the single worker that turns decoded radio
// samples into local audio and outgoing radio payload. It owns the DSP
// exchange contract, the built-in exchange engines, the hardware audio
// routing table and the reader-to-worker notification.
package pipeline
