// Package audio owns the client's audio path: the shared duplex device, the
// microphone recorder, the response player, and WAV encoding in the fixed
// capture format (PCM 16-bit, mono, 44.1 kHz, little-endian).
// Platform access goes through the Backend, CaptureSource and OutputSink
// interfaces so headless implementations can stand in for real hardware.
package audio
