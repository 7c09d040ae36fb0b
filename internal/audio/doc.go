// Package audio provides the lock-free byte rings that connect the radio
// reader, the pipeline worker and the writer, plus the local audio outputs
// fed by the pipeline: primed playback streams and WAV file recording.
package audio
