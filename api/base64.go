package api

import (
	"encoding/base64"
	"strings"
)

// decodeBase64 accepts plain base64 or a data URL.
func decodeBase64(b64 string) ([]byte, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	return base64.StdEncoding.DecodeString(b64)
}
