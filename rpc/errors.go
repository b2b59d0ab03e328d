// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"

	"github.com/kortschak/jsonrpc2"
)

// UnmarshalMessage is a strict equivalent of [json.Unmarshal]. Unknown
// fields and trailing data are errors. Errors are returned as
// [jsonrpc2.WireError] values with code [ErrCodeInvalidMessage] and data
// holding the failing message and the sub-code of the failure.
func UnmarshalMessage[T any](data []byte, v *Message[T]) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil && dec.More() {
		off := dec.InputOffset()
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: fmt.Sprintf("invalid character %s after top-level value at offset %d", quoteChar(data[off]), off),
			Data:    messageErrData(&json.SyntaxError{Offset: off}, data),
		}
	}
	if err != nil {
		return &jsonrpc2.WireError{
			Code:    ErrCodeInvalidMessage,
			Message: err.Error(),
			Data:    messageErrData(err, data),
		}
	}
	return nil
}

// messageErrData returns the error data for a failed message decode.
func messageErrData(err error, msg []byte) json.RawMessage {
	if err == nil {
		return nil
	}
	detail := struct {
		Type    int    `json:"type,omitempty"`
		Offset  int64  `json:"offset,omitempty"`
		Message []byte `json:"msg"`
	}{
		Message: msg,
	}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &syntaxErr):
		detail.Type = ErrCodeMessageSyntax
		detail.Offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		detail.Type = ErrCodeMessageType
		detail.Offset = typeErr.Offset
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		detail.Type = ErrCodeShortMessage
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		detail.Type = ErrCodeMessageUnknownField
	}
	b, _ := encodeJSON(detail)
	return b
}

// NewError returns an error that will be encoded correctly in the RPC
// protocol. If data is not nil, it is JSON encoded into the error's Data
// field.
func NewError(code int64, message string, data any) error {
	return &jsonrpc2.WireError{
		Code:    code,
		Message: message,
		Data:    wireErrorData(data),
	}
}

// AddWireErrorDetail updates the Data field of a [jsonrpc2.WireError] with the
// fields in details, overwriting fields if they already exist. If err is not a
// [jsonrpc2.WireError] or the Data field does not encode a map, the error is
// returned unmodified.
func AddWireErrorDetail(err error, details map[string]any) error {
	werr, ok := err.(*jsonrpc2.WireError)
	if !ok {
		return err
	}
	var data map[string]any
	if json.Unmarshal(werr.Data, &data) != nil || data == nil {
		return err
	}
	maps.Copy(data, details)
	werr.Data = wireErrorData(data)
	return werr
}

func wireErrorData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := encodeJSON(data)
	if err != nil {
		b, _ = json.Marshal("!" + err.Error())
	}
	return b
}

// encodeJSON returns the JSON encoding of v without HTML escaping or
// a trailing newline.
func encodeJSON(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

// quoteChar formats c as a quoted character literal.
func quoteChar(c byte) string {
	switch c {
	case '\'':
		return `'\''`
	case '"':
		return `'"'`
	}
	s := strconv.Quote(string(c))
	return "'" + s[1:len(s)-1] + "'"
}
