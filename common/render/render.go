// Package render writes SSE events to the client.
package render

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// StringData writes one pre-formatted SSE data line and flushes it.
func StringData(c *gin.Context, str string) {
	str = strings.TrimPrefix(str, "data: ")
	str = strings.TrimSuffix(str, "\r")
	c.Render(-1, customEvent{Data: "data: " + str})
	c.Writer.Flush()
}

// ObjectData marshals object and writes it as one SSE data event.
func ObjectData(c *gin.Context, object any) error {
	jsonData, err := json.Marshal(object)
	if err != nil {
		return err
	}
	StringData(c, string(jsonData))
	return nil
}

// EventData writes one named SSE event (Anthropic-dialect framing).
func EventData(c *gin.Context, event string, data string) {
	c.Render(-1, customEvent{Data: "event: " + event + "\ndata: " + data})
	c.Writer.Flush()
}

// Done terminates an OpenAI-dialect stream.
func Done(c *gin.Context) {
	StringData(c, "[DONE]")
}

// customEvent renders raw SSE payloads without the default event framing.
type customEvent struct {
	Data string
}

func (r customEvent) Render(w http.ResponseWriter) error {
	r.WriteContentType(w)
	_, err := w.Write([]byte(r.Data + "\n\n"))
	return err
}

func (r customEvent) WriteContentType(w http.ResponseWriter) {
	header := w.Header()
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "text/event-stream; charset=utf-8")
	}
}
