package service

import (
	"github.com/gabriel-vasile/mimetype"
)

const DefaultMimetype = "application/octet-stream"

// MimeDetector sniffs a media type from leading payload bytes.
type MimeDetector interface {
	Detect(content []byte) string
}

type SniffingDetector struct{}

func (SniffingDetector) Detect(content []byte) string {
	return DetectMimetype(content)
}

// DetectMimetype never returns an empty string.
func DetectMimetype(content []byte) string {
	if mt := mimetype.Detect(content); mt != nil && mt.String() != "" {
		return mt.String()
	}
	return DefaultMimetype
}
