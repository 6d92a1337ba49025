package media

import "encoding/base64"

// Base64 encodes b with standard padding for JSON delivery.
func Base64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DataURI renders b as an inline data: URI.
func DataURI(contentType string, b []byte) string {
	return "data:" + contentType + ";base64," + Base64(b)
}
