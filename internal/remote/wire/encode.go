// Package wire implements the execution service's request framing and
// reply grammar.
package wire

import (
	"bytes"
	"strconv"

	appErr "runbox/pkg/errors"

	"github.com/klauspost/compress/flate"
)

// frameEnd closes a request frame. The service reads fields until it
// sees this byte.
const frameEnd = 0x04

// EncodeBody serializes one execution request into the service's field
// format and compresses it with a raw deflate stream at the maximum
// level. The server expects the bare stream, no zlib header or trailer.
//
// Field order is protocol-mandated: args, lang, CFLAGS, OPTIONS, code,
// input, terminator. Length slots hold UTF-8 byte counts for scalar
// fields and element counts for vector fields.
func EncodeBody(token, code, stdin string, args, cflags []string) ([]byte, error) {
	var frame bytes.Buffer
	writeListField(&frame, "args", args)
	writeField(&frame, "lang", "1", []byte(token))
	writeListField(&frame, "CFLAGS", cflags)
	writeField(&frame, "OPTIONS", "0", nil)
	writeField(&frame, "code", strconv.Itoa(len(code)), []byte(code))
	writeField(&frame, "input", strconv.Itoa(len(stdin)), []byte(stdin))
	frame.WriteByte(frameEnd)

	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.BestCompression)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	if _, err := w.Write(frame.Bytes()); err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	if err := w.Close(); err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError)
	}
	return out.Bytes(), nil
}

// writeField appends one scalar field: name, NUL, length, NUL, value.
func writeField(buf *bytes.Buffer, name, length string, value []byte) {
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.WriteString(length)
	buf.WriteByte(0)
	buf.Write(value)
}

// writeListField appends a vector field: the length slot carries the
// element count and every element is NUL-terminated.
func writeListField(buf *bytes.Buffer, name string, items []string) {
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.WriteString(strconv.Itoa(len(items)))
	buf.WriteByte(0)
	for _, item := range items {
		buf.WriteString(item)
		buf.WriteByte(0)
	}
}
