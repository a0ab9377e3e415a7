// File: internal/network/compression.go
package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptedEncodings is advertised on outgoing requests. Brotli first: command
// result payloads are JSON and brotli wins on text.
const acceptedEncodings = "br, gzip, deflate, identity"

// Pools for decompression readers to reduce allocation overhead across
// repeated command exchanges.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			// brotli.NewReader(nil) yields a reusable reader ready for Reset().
			return brotli.NewReader(nil)
		},
	}
)

// Shared empty reader used for safely resetting pooled readers on return.
var emptyReader = strings.NewReader("")

// CompressionMiddleware is an http.RoundTripper that advertises compression
// support on outgoing requests and transparently decodes the response body
// based on its Content-Encoding header. Gzip, brotli and both flavors of
// deflate are handled; layered encodings are unwound in reverse order.
type CompressionMiddleware struct {
	// Transport is the underlying http.RoundTripper. If nil,
	// http.DefaultTransport is used.
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps the provided round tripper.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptedEncodings)
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		// The body stream may be partially consumed; it cannot be salvaged.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}

	return resp, nil
}

// DecompressResponse wraps resp.Body with the decoders its Content-Encoding
// header names, innermost last. On success the encoding headers are cleared
// and resp.Uncompressed is set.
//
// If an error is returned the body may have been partially read and must be
// discarded by the caller.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	// Encodings are listed in application order; decode in reverse.
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))
		if encoding == "" || encoding == "identity" {
			continue
		}

		wrapped, err := wrapDecoder(encoding, resp.Body)
		if err != nil {
			return err
		}
		resp.Body = wrapped
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true

	return nil
}

// wrapDecoder returns body wrapped with the decoder for a single encoding layer.
func wrapDecoder(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip":
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(body); err != nil {
			gzipReaderPool.Put(zr)
			return nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		return &closeWrapper{
			ReadCloser:   zr,
			originalBody: body,
			release: func() {
				_ = zr.Reset(emptyReader)
				gzipReaderPool.Put(zr)
			},
		}, nil

	case "br":
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(body); err != nil {
			brotliReaderPool.Put(br)
			return nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		// brotli.Reader does not implement io.Closer.
		return &closeWrapper{
			ReadCloser:   io.NopCloser(br),
			originalBody: body,
			release: func() {
				_ = br.Reset(emptyReader)
				brotliReaderPool.Put(br)
			},
		}, nil

	case "deflate":
		reader, err := tryDeflate(body)
		if err != nil {
			return nil, fmt.Errorf("deflate initialization error: %w", err)
		}
		return &closeWrapper{ReadCloser: reader, originalBody: body}, nil

	default:
		return nil, fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
	}
}

// closeWrapper closes the decoder and the underlying body, and returns pooled
// readers via the release callback.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	release      func()
}

func (w *closeWrapper) Close() error {
	if w.release != nil {
		w.release()
		w.release = nil
	}
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	return errors.Join(err1, err2)
}

// tryDeflate decodes a deflate body, accepting both the RFC 1950 zlib framing
// most servers send and the raw RFC 1951 stream some legacy ones do.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	// Tee the probed bytes so the raw fallback can replay them.
	var probed bytes.Buffer
	tee := io.TeeReader(r, &probed)

	zlibReader, err := zlib.NewReader(tee)
	if err == nil {
		return zlibReader, nil
	}

	rewound := io.MultiReader(bytes.NewReader(probed.Bytes()), r)
	// flate.NewReader cannot fail at construction.
	return flate.NewReader(rewound), nil
}
