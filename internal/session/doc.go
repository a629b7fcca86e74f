// Package session implements the practice attempt state machine:
//
//	Idle -> RequestingPermission -> Recording -> Uploading -> Decoding -> Playing -> Idle
//
// Error is reachable from every state and always falls back to Idle. One
// attempt runs at a time; a busy coordinator rejects new work instead of
// queueing it, and every terminal transition deactivates the audio device.
package session
