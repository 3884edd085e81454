package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Payload is a record body. Its type tag is fixed per Go type.
type Payload interface {
	recordType() string
}

func (*EntryRecord) recordType() string   { return TypeEntry }
func (*ErrorRecord) recordType() string   { return TypeError }
func (*SummaryRecord) recordType() string { return TypeSummary }

// envelope mirrors Record for encoding without a second marshal pass.
type envelope struct {
	Type      string    `json:"type"`
	TS        time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Bucket    string    `json:"bucket"`
	Data      Payload   `json:"data"`
}

// JSONLWriter writes one Record per line. It is safe for concurrent use;
// lines never interleave.
type JSONLWriter struct {
	w         io.Writer
	sessionID string
	bucket    string
	now       func() time.Time

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewJSONLWriter stamps every record with sessionID and bucket.
func NewJSONLWriter(w io.Writer, sessionID, bucket string) *JSONLWriter {
	return &JSONLWriter{w: w, sessionID: sessionID, bucket: bucket, now: time.Now}
}

// Emit writes p as one line.
func (jw *JSONLWriter) Emit(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	if jw.closed {
		return ErrWriterClosed
	}

	jw.buf.Reset()
	// Encode appends the newline.
	err := json.NewEncoder(&jw.buf).Encode(envelope{
		Type:      p.recordType(),
		TS:        jw.now().UTC(),
		SessionID: jw.sessionID,
		Bucket:    jw.bucket,
		Data:      p,
	})
	if err != nil {
		return &WriteError{Op: "marshal", Err: err}
	}
	if err := writeAll(jw.w, jw.buf.Bytes()); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// Close rejects further records. The underlying writer stays open.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

// writeAll loops over short writes; a truncated line would corrupt the
// stream.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
