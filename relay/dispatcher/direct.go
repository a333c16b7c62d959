package dispatcher

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	"github.com/meridianhq/ai-gateway/logsink"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

// DoDirect forwards a provider-native request without body inspection: auth
// header swap, host swap, nothing else. Streaming is not supported here
// because the gateway cannot detect it without parsing the body, so the
// exchange is always unary.
func (d *Dispatcher) DoDirect(c *gin.Context) *relaymodel.GatewayError {
	reqCtx, ok := getRequestContext(c)
	if !ok {
		return relaymodel.NewInternal("request context missing", relaymodel.ErrExtensionNotFound)
	}
	pathAndQuery := c.GetString(ctxkey.PathAndQuery)
	if pathAndQuery == "" {
		pathAndQuery = "/"
	}

	body, err := common.GetRequestBody(c)
	if err != nil {
		return relaymodel.NewInternal("read request body", err)
	}

	upstreamReq, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method,
		d.baseURL+pathAndQuery, bytes.NewReader(body))
	if err != nil {
		return relaymodel.NewInternal("build upstream request", err)
	}
	d.copyRequestHeaders(c.Request.Header, upstreamReq.Header)
	if gerr := d.authenticate(c, upstreamReq, body, reqCtx); gerr != nil {
		return gerr
	}

	c.Set(ctxkey.Provider, d.provider.String())

	resp, err := d.opts.Client.Do(upstreamReq)
	if err != nil {
		d.submitDirectLog(c, reqCtx, 0, 0, err.Error())
		return relaymodel.NewUpstreamError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		d.submitDirectLog(c, reqCtx, resp.StatusCode, 0, err.Error())
		return relaymodel.NewUpstreamError(err)
	}

	d.captureProviderRequestId(c, resp)
	d.submitDirectLog(c, reqCtx, resp.StatusCode, int64(len(respBody)), "")
	d.forwardResponse(c, resp, respBody)
	return nil
}

func (d *Dispatcher) submitDirectLog(c *gin.Context, reqCtx *relaymodel.RequestContext, status int, bytes int64, errMsg string) {
	record := &logsink.Record{
		RequestId:     reqCtx.RequestId,
		RouterId:      d.routerId,
		Provider:      d.provider.String(),
		Endpoint:      "direct",
		Status:        status,
		StartTime:     reqCtx.StartTime,
		Latency:       time.Since(reqCtx.StartTime),
		ResponseBytes: bytes,
		Error:         errMsg,
	}
	if reqCtx.Auth != nil {
		record.UserId = reqCtx.Auth.UserId
	}
	d.opts.LogWorker.Submit(record)
}
