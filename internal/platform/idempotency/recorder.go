package idempotency

import (
	"bytes"
	"net/http"
)

// responseRecorder holds the handler's response until it has been stored.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// flush sends the buffered response to the client.
func (r *responseRecorder) flush() {
	dst := r.parent.Header()
	for k, v := range r.header {
		dst[k] = v
	}
	r.parent.WriteHeader(r.Status())
	_, _ = r.parent.Write(r.body.Bytes())
}
