// Package evaluation provides the HTTP transport to the remote evaluation
// service. Each upload is a single POST with no retries.
package evaluation
