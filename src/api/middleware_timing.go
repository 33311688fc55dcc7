package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// latencyContextKey is where processingTimeMiddleware stashes the request's
// measured latency so requestLogMiddleware can report the exact figure that
// went out in the Server-Timing header instead of measuring a second,
// slightly later, wall-clock span of its own.
const latencyContextKey = "conductor.latencyMS"

// timingWriter wraps gin.ResponseWriter so the Server-Timing header goes out
// on the first byte written, no matter which writer method gin's internals
// happen to call first (WriteHeader, Write, or a streamed Flush, as used by
// the SSE/long-poll paths some handlers take before the WebSocket upgrade).
type timingWriter struct {
	gin.ResponseWriter
	start    time.Time
	once     sync.Once
	measured *time.Duration
}

func (w *timingWriter) stamp() {
	w.once.Do(func() {
		d := time.Since(w.start)
		*w.measured = d
		w.Header().Set("Server-Timing", fmt.Sprintf("total;dur=%.2f", d.Seconds()*1000))
	})
}

func (w *timingWriter) WriteHeader(statusCode int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *timingWriter) Write(data []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(data)
}

func (w *timingWriter) WriteHeaderNow() {
	w.stamp()
	w.ResponseWriter.WriteHeaderNow()
}

func (w *timingWriter) Flush() {
	w.stamp()
	w.ResponseWriter.Flush()
}

// processingTimeMiddleware reports per-request processing time as a
// Server-Timing header (so the dashboard's network tab shows it directly)
// and leaves the measured value on the context for requestLogMiddleware to
// reuse, so the two never disagree about how long a request took.
func processingTimeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var measured time.Duration
		tw := &timingWriter{ResponseWriter: c.Writer, start: time.Now(), measured: &measured}
		c.Writer = tw

		c.Next()

		tw.stamp()
		c.Set(latencyContextKey, measured.Seconds()*1000)
	}
}
