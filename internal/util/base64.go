// Package util holds small helpers shared across the server and agent.
package util

import "encoding/base64"

// EncodeBase64 encodes s with standard padding.
func EncodeBase64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeBase64 decodes a standard-padded string.
func DecodeBase64(s string) (string, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
