// Package permission gates microphone access.
// It prompts the platform at most once per Gate and reports the resulting status.
package permission
