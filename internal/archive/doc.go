// Package archive uploads the recording and response audio of finished
// attempts to an S3-compatible bucket. Uploads run on a small worker pool
// so the coordinator never waits on the network.
package archive
