package protocol

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"

	"github.com/google/uuid"

	"github.com/skypro1111/voice-practice/internal/audio"
	"github.com/skypro1111/voice-practice/internal/failure"
)

// Upload part defaults
const (
	FieldName        = "file"
	FileName         = "recording.wav"
	PartContentType  = "audio/wave"
	boundaryPrefix   = "Boundary-"
	maxBoundaryBytes = 70
)

// UploadRequest is an encoded multipart body ready to be sent
type UploadRequest struct {
	Boundary string
	Body     []byte
}

// ContentType returns the request Content-Type header value
func (r *UploadRequest) ContentType() string {
	return "multipart/form-data; boundary=" + r.Boundary
}

// NewBoundary returns a fresh random boundary token
func NewBoundary() string {
	return boundaryPrefix + uuid.NewString()
}

// Build encodes the recording file of session as a single-part multipart
// body delimited by boundary. The output is deterministic for a given
// boundary; the encoder does not check the payload for collisions.
func Build(session *audio.RecordingSession, boundary, fieldName, fileName, contentType string) (*UploadRequest, error) {
	if session == nil {
		return nil, failure.Newf(failure.KindEncodingFailure, "no recording to encode")
	}

	data, err := os.ReadFile(session.FilePath)
	if err != nil {
		return nil, failure.New(failure.KindEncodingFailure, fmt.Errorf("failed to read recording: %w", err))
	}

	return BuildBytes(data, boundary, fieldName, fileName, contentType)
}

// BuildBytes encodes data as the file part of a multipart body
func BuildBytes(data []byte, boundary, fieldName, fileName, contentType string) (*UploadRequest, error) {
	if boundary == "" || len(boundary) > maxBoundaryBytes {
		return nil, failure.Newf(failure.KindEncodingFailure, "boundary must be 1 to %d bytes, got %d", maxBoundaryBytes, len(boundary))
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.SetBoundary(boundary); err != nil {
		return nil, failure.New(failure.KindEncodingFailure, fmt.Errorf("invalid boundary %q: %w", boundary, err))
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fieldName, fileName))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, failure.New(failure.KindEncodingFailure, fmt.Errorf("failed to create file part: %w", err))
	}

	if _, err := part.Write(data); err != nil {
		return nil, failure.New(failure.KindEncodingFailure, fmt.Errorf("failed to write file part: %w", err))
	}

	if err := writer.Close(); err != nil {
		return nil, failure.New(failure.KindEncodingFailure, fmt.Errorf("failed to close multipart body: %w", err))
	}

	return &UploadRequest{Boundary: boundary, Body: buf.Bytes()}, nil
}

// FilePart is a file re-read from a multipart body
type FilePart struct {
	FieldName   string
	FileName    string
	ContentType string
	Data        []byte
}

// ExtractFile returns the first part named fieldName from a multipart body
func ExtractFile(r io.Reader, boundary, fieldName string) (*FilePart, error) {
	reader := multipart.NewReader(r, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil, fmt.Errorf("no part named %q", fieldName)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		if part.FormName() != fieldName {
			part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read part %q: %w", fieldName, err)
		}

		return &FilePart{
			FieldName:   fieldName,
			FileName:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}
}
