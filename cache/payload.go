package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// Response is a captured HTTP response.
type Response struct {
	StatusCode int         `cbor:"status"`
	Header     http.Header `cbor:"header,omitempty"`
	Body       []byte      `cbor:"body,omitempty"`
}

// NewResponse reads resp fully and closes its body.
func NewResponse(resp *http.Response) (*Response, error) {
	body, err := readAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// HTTPResponse returns a new *http.Response for req backed by a copy of r.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(r.StatusCode) + " " + http.StatusText(r.StatusCode),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// EncodeResponse serializes r for Record.Payload.
func EncodeResponse(r *Response) ([]byte, error) {
	data, err := cbor.Marshal(r)
	if err != nil {
		return nil, errSerialization("encode response", err)
	}
	return data, nil
}

// DecodeResponse restores a response serialized by EncodeResponse.
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) == 0 {
		return nil, errSerialization("decode response", io.ErrUnexpectedEOF)
	}
	var r Response
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, errSerialization("decode response", err)
	}
	return &r, nil
}

func errSerialization(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSerialization, op, err)
}

func readAll(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}
