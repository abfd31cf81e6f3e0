package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"draftflow/pkg/logger"
	"draftflow/pkg/stream"

	"github.com/valyala/bytebufferpool"
)

// streamSSE relays chunks from a reader to the client as server-sent
// events until the channel closes. A dropped client only stops this relay;
// the run keeps executing and the client can reattach by run id.
func streamSSE(w http.ResponseWriter, r *http.Request, rd *stream.Reader) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		chunk, err := rd.Next(r.Context())
		if err == io.EOF {
			_, _ = w.Write([]byte("event: done\ndata: {}\n\n"))
			flusher.Flush()
			return
		}
		if err != nil {
			// client gone or request timed out; the run is unaffected
			return
		}
		b, err := json.Marshal(chunk)
		if err != nil {
			logger.Error("sse_marshal_failed", "error", err)
			return
		}
		buf := bytebufferpool.Get()
		_, _ = buf.WriteString("data: ")
		_, _ = buf.Write(b)
		_, _ = buf.WriteString("\n\n")
		_, _ = w.Write(buf.B)
		bytebufferpool.Put(buf)
		flusher.Flush()
	}
}
