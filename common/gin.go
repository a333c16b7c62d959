package common

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common/ctxkey"
)

// GetRequestBody reads and caches the raw request body so it can be consumed
// more than once (cache key, mapper, dispatcher).
func GetRequestBody(c *gin.Context) ([]byte, error) {
	if v, ok := c.Get(ctxkey.KeyRequestBody); ok {
		return v.([]byte), nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read request body")
	}
	_ = c.Request.Body.Close()
	c.Set(ctxkey.KeyRequestBody, body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// SetRequestBody replaces the cached body, e.g. after the mapper rewrote the
// payload for the target dialect.
func SetRequestBody(c *gin.Context, body []byte) {
	c.Set(ctxkey.KeyRequestBody, body)
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	c.Request.ContentLength = int64(len(body))
}

// UnmarshalBodyReusable decodes the request body into v without consuming it.
func UnmarshalBodyReusable(c *gin.Context, v any) error {
	body, err := GetRequestBody(c)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, v); err != nil {
		return errors.Wrap(err, "unmarshal request body")
	}
	// Restore the body for downstream readers.
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return nil
}

// SetEventStreamHeaders prepares the response for SSE streaming.
func SetEventStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}
