// Package metrics defines the Prometheus instruments for practice attempts,
// the audio device, evaluation uploads and the control API.
package metrics
