// Package failure defines the error taxonomy shared by every stage of a practice session.
// Each stage maps its own failures to a Kind so callers can inspect what went wrong
// without depending on the stage that produced it.
package failure
