package streaming

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrInvalidRange indicates a Range header that cannot be satisfied.
var ErrInvalidRange = errors.New("invalid range")

// byteRange is one parsed "bytes=start-end" request, normalized against
// the blob size.
type byteRange struct {
	start  int64
	length int64
}

// parseRange parses a single-range Range header against size. Multipart
// ranges are not supported; the first range wins, matching what video
// players actually send.
func parseRange(header string, size int64) (*byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, ErrInvalidRange
	}

	spec := strings.TrimPrefix(header, prefix)
	if i := strings.Index(spec, ","); i >= 0 {
		spec = spec[:i]
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, ErrInvalidRange
	}

	// Suffix form "bytes=-N": the final N bytes.
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, ErrInvalidRange
		}
		if n > size {
			n = size
		}
		return &byteRange{start: size - n, length: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return nil, ErrInvalidRange
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, ErrInvalidRange
		}
		if end >= size {
			end = size - 1
		}
	}

	return &byteRange{start: start, length: end - start + 1}, nil
}

// ServeBlob writes a blob to the response, honoring a Range header with a
// 206 partial response when the total size is known. body is consumed, not
// closed. Seekable bodies (local files) seek to the range start; others
// discard the prefix.
func ServeBlob(w http.ResponseWriter, r *http.Request, body io.Reader, size int64, contentType string) error {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" || size < 0 {
		if size >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
			w.Header().Set("Accept-Ranges", "bytes")
		}
		_, err := Copy(r.Context(), w, body, DefaultWriterConfig())
		return err
	}

	br, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "invalid range", http.StatusRequestedRangeNotSatisfiable)
		return err
	}

	if br.start > 0 {
		if seeker, ok := body.(io.Seeker); ok {
			if _, err := seeker.Seek(br.start, io.SeekStart); err != nil {
				return fmt.Errorf("seek to range start: %w", err)
			}
		} else {
			if _, err := io.CopyN(io.Discard, body, br.start); err != nil {
				return fmt.Errorf("skip to range start: %w", err)
			}
		}
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.start, br.start+br.length-1, size))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Length", strconv.FormatInt(br.length, 10))
	w.WriteHeader(http.StatusPartialContent)

	n, err := Copy(r.Context(), w, io.LimitReader(body, br.length), DefaultWriterConfig())
	if err != nil && !errors.Is(err, ErrClientGone) {
		log.Debug().Err(err).Int64("written", n).Msg("range stream ended early")
	}
	return err
}
