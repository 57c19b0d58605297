// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package grafana

import (
	"bytes"
	"encoding/base64"
	"io"

	"github.com/juju/errors"
	"github.com/ulikunitz/xz"
)

// Compress returns the base64 encoding of the xz-compressed content, the
// form dashboards take in relation data.
func Compress(content string) (string, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return "", errors.Trace(err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		return "", errors.Annotate(err, "compressing dashboard")
	}
	if err := w.Close(); err != nil {
		return "", errors.Annotate(err, "compressing dashboard")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress.
func Decompress(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", errors.Annotate(err, "decoding dashboard")
	}
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Annotate(err, "decompressing dashboard")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Annotate(err, "decompressing dashboard")
	}
	return string(out), nil
}
