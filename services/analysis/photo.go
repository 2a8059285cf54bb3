// Copyright (C) 2026 Aperioesca (dev@aperioesca.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
)

// LoadPhoto reads an image file into a transport payload.
//
// The image type is sniffed from the file contents; only JPEG and PNG are
// accepted. Payloads above MaxImageBase64Bytes are rejected up front — the
// relay would refuse them with 413 anyway, so there is no point spending a
// quota unit on the attempt.
//
// Failures here are INVALID_REQUEST: nothing was dispatched, nothing is
// retryable.
func LoadPhoto(path string) (Payload, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, newError(KindInvalidRequest,
			"Could not process image. Please try again with a different photo.",
			false, fmt.Errorf("read photo: %w", err))
	}
	return EncodePhoto(raw)
}

// EncodePhoto validates raw image bytes and produces a transport payload.
func EncodePhoto(raw []byte) (Payload, error) {
	mime := http.DetectContentType(raw)
	switch mime {
	case "image/jpeg", "image/png":
	default:
		return Payload{}, newError(KindInvalidRequest,
			"Could not process image. Please try again with a different photo.",
			false, fmt.Errorf("unsupported image type %s", mime))
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	if len(encoded) > MaxImageBase64Bytes {
		return Payload{}, newError(KindInvalidRequest,
			"Photo is too large. Please try a smaller photo.",
			false, fmt.Errorf("encoded payload is %d bytes, cap is %d",
				len(encoded), MaxImageBase64Bytes))
	}
	return Payload{Base64: encoded, MIME: mime}, nil
}
