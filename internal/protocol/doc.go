// Package protocol implements the evaluation wire format: the single-part
// multipart/form-data upload body and the JSON+base64 response payload.
package protocol
