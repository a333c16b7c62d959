// Package dispatcher is the leaf service of the request pipeline: it builds
// the upstream HTTP request for one (router, provider) binding, signs it if
// the provider requires that, streams or buffers the response back to the
// client, and emits one log record per request on a detached task.
package dispatcher

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/common"
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	"github.com/meridianhq/ai-gateway/common/render"
	"github.com/meridianhq/ai-gateway/logsink"
	"github.com/meridianhq/ai-gateway/relay/endpoint"
	"github.com/meridianhq/ai-gateway/relay/mapper"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
	"github.com/meridianhq/ai-gateway/relay/provider"
)

// strippedRequestHeaders never reach an upstream: connection-scoped fields,
// the inbound credential, and gateway-internal hints.
var strippedRequestHeaders = map[string]struct{}{
	"Host":              {},
	"Authorization":     {},
	"Content-Length":    {},
	"Accept-Encoding":   {},
	"Helicone-Api-Key":  {},
	"X-Api-Key":         {},
	"Connection":        {},
	"Proxy-Connection":  {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// Options carries the construction parameters shared by every dispatcher in
// one process.
type Options struct {
	Dispatcher config.DispatcherConfig
	Providers  map[string]config.ProviderConfig
	Mapper     *mapper.Mapper
	Metrics    *metrics.Registry
	LogWorker  *logsink.Worker
	// Clients are shared process-wide; Stream has no overall timeout so
	// long generations are bounded only by context cancellation.
	Client       *http.Client
	StreamClient *http.Client
}

// Dispatcher serves one (router, provider) binding.
type Dispatcher struct {
	routerId     string
	provider     provider.InferenceProvider
	clientStyle  mapper.Dialect
	baseURL      string
	version      string
	region       string
	opts         *Options
	rateLimitOut chan<- relaymodel.RateLimitEvent
}

// New builds a dispatcher. rateLimitOut receives an event for every
// upstream 429; it is owned by the router's rate-limit monitor.
func New(routerId string, p provider.InferenceProvider, clientStyle mapper.Dialect, opts *Options, rateLimitOut chan<- relaymodel.RateLimitEvent) (*Dispatcher, error) {
	pc, ok := opts.Providers[p.String()]
	if !ok {
		return nil, relaymodel.NewInternal("provider not configured: "+p.String(), nil)
	}
	return &Dispatcher{
		routerId:     routerId,
		provider:     p,
		clientStyle:  clientStyle,
		baseURL:      strings.TrimSuffix(pc.BaseURL, "/"),
		version:      pc.Version,
		region:       pc.Region,
		opts:         opts,
		rateLimitOut: rateLimitOut,
	}, nil
}

// Provider returns the bound provider.
func (d *Dispatcher) Provider() provider.InferenceProvider { return d.provider }

// Ready reports whether the dispatcher can accept a call. The HTTP clients
// are stateless, so a constructed dispatcher is always ready.
func (d *Dispatcher) Ready() bool { return true }

// Do proxies one request to the bound provider.
func (d *Dispatcher) Do(c *gin.Context) *relaymodel.GatewayError {
	reqCtx, ok := getRequestContext(c)
	if !ok {
		return relaymodel.NewInternal("request context missing", relaymodel.ErrExtensionNotFound)
	}
	apiEndpoint, ok := getApiEndpoint(c)
	if !ok {
		return relaymodel.NewInternal("api endpoint missing", relaymodel.ErrExtensionNotFound)
	}
	mapperCtx, ok := getMapperContext(c)
	if !ok {
		return relaymodel.NewInternal("mapper context missing", relaymodel.ErrExtensionNotFound)
	}

	body, err := common.GetRequestBody(c)
	if err != nil {
		return relaymodel.NewInternal("read request body", err)
	}

	targetURL, gerr := d.resolveURL(c, apiEndpoint, mapperCtx)
	if gerr != nil {
		return gerr
	}

	upstreamReq, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		return relaymodel.NewInternal("build upstream request", err)
	}
	d.copyRequestHeaders(c.Request.Header, upstreamReq.Header)
	if gerr := d.authenticate(c, upstreamReq, body, reqCtx); gerr != nil {
		return gerr
	}

	c.Set(ctxkey.Provider, d.provider.String())

	em := d.opts.Metrics.Endpoint(apiEndpoint)
	em.RecordRequest()
	em.EWMA().Start()

	if mapperCtx.IsStream {
		return d.doStream(c, upstreamReq, apiEndpoint, mapperCtx, reqCtx, em)
	}
	return d.doUnary(c, upstreamReq, apiEndpoint, mapperCtx, reqCtx, em)
}

// resolveURL joins the provider base URL with the endpoint's canonical path
// and the preserved query string.
func (d *Dispatcher) resolveURL(c *gin.Context, apiEndpoint endpoint.ApiEndpoint, mapperCtx *relaymodel.MapperContext) (string, *relaymodel.GatewayError) {
	var path string
	if d.provider == provider.Bedrock {
		targetModel := c.GetString(ctxkey.TargetModel)
		if targetModel == "" {
			return "", relaymodel.NewInternal("target model missing for bedrock", relaymodel.ErrExtensionNotFound)
		}
		path = endpoint.UpstreamPathBedrock(targetModel, mapperCtx.IsStream)
	} else {
		p, err := apiEndpoint.UpstreamPath()
		if err != nil {
			return "", relaymodel.NewInvalidRequest(err.Error())
		}
		path = p
	}

	target := d.baseURL + path
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}
	if _, err := url.Parse(target); err != nil {
		return "", relaymodel.NewInternal("resolve upstream url", err)
	}
	return target, nil
}

func (d *Dispatcher) copyRequestHeaders(in http.Header, out http.Header) {
	for name, values := range in {
		if _, strip := strippedRequestHeaders[http.CanonicalHeaderKey(name)]; strip {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), "helicone-") {
			continue
		}
		for _, v := range values {
			out.Add(name, v)
		}
	}
	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", "application/json")
	}
}

// authenticate installs the provider's upstream credential.
func (d *Dispatcher) authenticate(c *gin.Context, req *http.Request, body []byte, reqCtx *relaymodel.RequestContext) *relaymodel.GatewayError {
	key := reqCtx.ProviderKey(d.provider)
	switch d.provider {
	case provider.Ollama:
		// Unauthenticated.
		return nil
	case provider.Anthropic:
		if key == "" {
			return relaymodel.NewInternal("missing anthropic api key", nil)
		}
		req.Header.Set("x-api-key", key)
		version := d.version
		if version == "" {
			version = "2023-06-01"
		}
		req.Header.Set("anthropic-version", version)
		return nil
	case provider.Bedrock:
		if err := signBedrock(c.Request.Context(), req, body, key, d.region); err != nil {
			return relaymodel.NewInternal("sign bedrock request", err)
		}
		return nil
	default:
		if key == "" {
			return relaymodel.NewInternal("missing api key for "+d.provider.String(), nil)
		}
		req.Header.Set("Authorization", "Bearer "+key)
		return nil
	}
}

func (d *Dispatcher) doUnary(c *gin.Context, req *http.Request, apiEndpoint endpoint.ApiEndpoint, mapperCtx *relaymodel.MapperContext, reqCtx *relaymodel.RequestContext, em *metrics.EndpointMetrics) *relaymodel.GatewayError {
	lg := gmw.GetLogger(c)

	resp, err := d.opts.Client.Do(req)
	if err != nil {
		em.RecordRemoteError()
		em.EWMA().Done(d.opts.Dispatcher.Timeout)
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, 0, 0, 0, err.Error())
		return relaymodel.NewUpstreamError(err)
	}
	defer resp.Body.Close()

	tfft := time.Since(reqCtx.StartTime)
	em.ObserveTFFT(tfft)
	em.EWMA().Done(tfft)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		em.RecordRemoteError()
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, tfft, 0, err.Error())
		return relaymodel.NewUpstreamError(err)
	}

	d.captureProviderRequestId(c, resp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		d.publishRateLimit(c, apiEndpoint, resp)
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, tfft, int64(len(respBody)), "upstream rate limited")
		d.forwardResponse(c, resp, respBody)
		return nil
	case resp.StatusCode >= http.StatusInternalServerError:
		em.RecordRemoteError()
		lg.Warn("upstream server error",
			zap.String("provider", d.provider.String()),
			zap.Int("status", resp.StatusCode))
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, tfft, int64(len(respBody)), "upstream 5xx")
		return &relaymodel.GatewayError{
			Kind:    relaymodel.KindUpstreamError,
			Message: "upstream returned " + strconv.Itoa(resp.StatusCode),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, tfft, int64(len(respBody)), "upstream 4xx")
		d.forwardResponse(c, resp, respBody)
		return nil
	}

	// Success: convert the body back to the client dialect if they differ.
	upstreamDialect := mapper.DialectFor(d.provider)
	mapped, gerr := d.opts.Mapper.MapResponse(respBody, upstreamDialect, d.clientStyle)
	if gerr != nil {
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, tfft, int64(len(respBody)), gerr.Message)
		return gerr
	}

	d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, tfft, int64(len(mapped)), "")
	d.forwardResponse(c, resp, mapped)
	return nil
}

// forwardResponse writes an upstream response through to the client,
// keeping provider headers except connection-scoped ones.
func (d *Dispatcher) forwardResponse(c *gin.Context, resp *http.Response, body []byte) {
	for name, values := range resp.Header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Transfer-Encoding", "Connection", "X-Request-Id":
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Writer.Header().Set("Content-Length", strconv.Itoa(len(body)))
	c.Status(resp.StatusCode)
	_, _ = c.Writer.Write(body)
}

func (d *Dispatcher) doStream(c *gin.Context, req *http.Request, apiEndpoint endpoint.ApiEndpoint, mapperCtx *relaymodel.MapperContext, reqCtx *relaymodel.RequestContext, em *metrics.EndpointMetrics) *relaymodel.GatewayError {
	lg := gmw.GetLogger(c)

	req.Header.Set("Accept", "text/event-stream")
	resp, err := d.opts.StreamClient.Do(req)
	if err != nil {
		em.RecordRemoteError()
		em.EWMA().Done(d.opts.Dispatcher.Timeout)
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, 0, 0, 0, err.Error())
		return relaymodel.NewUpstreamError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		em.EWMA().Done(time.Since(reqCtx.StartTime))
		respBody, _ := io.ReadAll(resp.Body)
		d.captureProviderRequestId(c, resp)
		if resp.StatusCode == http.StatusTooManyRequests {
			d.publishRateLimit(c, apiEndpoint, resp)
			d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, 0, int64(len(respBody)), "upstream rate limited")
			d.forwardResponse(c, resp, respBody)
			return nil
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			em.RecordRemoteError()
			d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, 0, int64(len(respBody)), "upstream 5xx")
			return &relaymodel.GatewayError{
				Kind:    relaymodel.KindUpstreamError,
				Message: "upstream returned " + strconv.Itoa(resp.StatusCode),
			}
		}
		d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, resp.StatusCode, 0, int64(len(respBody)), "upstream 4xx")
		d.forwardResponse(c, resp, respBody)
		return nil
	}

	d.captureProviderRequestId(c, resp)

	es := newEventSource(resp)
	defer es.Close()

	sm := mapper.NewStreamMapper(mapper.DialectFor(d.provider), d.clientStyle)
	common.SetEventStreamHeaders(c)
	c.Status(http.StatusOK)

	var (
		tfft       time.Duration
		totalBytes int64
		streamErr  string
	)

	for item := range es.Events() {
		if item.err != nil {
			em.RecordRemoteError()
			streamErr = item.err.Error()
			lg.Warn("stream broken", zap.Error(item.err))
			break
		}
		if tfft == 0 {
			tfft = time.Since(reqCtx.StartTime)
			em.ObserveTFFT(tfft)
			em.EWMA().Done(tfft)
		}

		frames, err := sm.MapChunk(item.data)
		if err != nil {
			em.RecordRemoteError()
			streamErr = err.Error()
			lg.Warn("stream chunk mapping failed", zap.Error(err))
			break
		}
		for _, frame := range frames {
			if frame.Event != "" {
				render.EventData(c, frame.Event, string(frame.Data))
			} else {
				render.StringData(c, string(frame.Data))
			}
			totalBytes += int64(len(frame.Data))
		}

		if c.Request.Context().Err() != nil {
			// Client went away; dropping the event source cancels the
			// upstream read.
			break
		}
	}

	if tfft == 0 {
		// The stream produced nothing before ending.
		em.EWMA().Done(time.Since(reqCtx.StartTime))
	}

	if streamErr == "" && sm.ForwardsDone() {
		render.Done(c)
	}

	d.submitLog(c, apiEndpoint, mapperCtx, reqCtx, http.StatusOK, tfft, totalBytes, streamErr)
	return nil
}

// captureProviderRequestId copies the upstream x-request-id into the local
// extension before the header is stripped, and stamps the gateway's
// provider headers while the response head is still open.
func (d *Dispatcher) captureProviderRequestId(c *gin.Context, resp *http.Response) {
	if id := resp.Header.Get("x-request-id"); id != "" {
		c.Set(ctxkey.ProviderRequestId, id)
		c.Writer.Header().Set("helicone-provider-req-id", id)
	}
	resp.Header.Del("x-request-id")
	c.Writer.Header().Set("helicone-provider", d.provider.String())
}

func (d *Dispatcher) publishRateLimit(c *gin.Context, apiEndpoint endpoint.ApiEndpoint, resp *http.Response) {
	event := relaymodel.RateLimitEvent{Endpoint: apiEndpoint}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			event.RetryAfterSeconds = secs
		}
	}
	if d.rateLimitOut == nil {
		return
	}
	select {
	case d.rateLimitOut <- event:
	default:
		// The monitor is behind; the next 429 will carry the same signal.
		gmw.GetLogger(c).Warn("rate limit channel full, event dropped",
			zap.String("endpoint", apiEndpoint.String()))
	}
}

// submitLog dispatches the side-channel log record. The record owns all its
// fields; failure never affects the client response.
func (d *Dispatcher) submitLog(c *gin.Context, apiEndpoint endpoint.ApiEndpoint, mapperCtx *relaymodel.MapperContext, reqCtx *relaymodel.RequestContext, status int, tfft time.Duration, bytes int64, errMsg string) {
	record := &logsink.Record{
		RequestId:     reqCtx.RequestId,
		RouterId:      d.routerId,
		Provider:      d.provider.String(),
		Endpoint:      apiEndpoint.Type.String(),
		Model:         c.GetString(ctxkey.TargetModel),
		Status:        status,
		Stream:        mapperCtx.IsStream,
		StartTime:     reqCtx.StartTime,
		TFFT:          tfft,
		Latency:       time.Since(reqCtx.StartTime),
		ResponseBytes: bytes,
		Error:         errMsg,
	}
	if reqCtx.Auth != nil {
		record.UserId = reqCtx.Auth.UserId
	}
	d.opts.LogWorker.Submit(record)
}

func getRequestContext(c *gin.Context) (*relaymodel.RequestContext, bool) {
	v, ok := c.Get(ctxkey.RequestContext)
	if !ok {
		return nil, false
	}
	rc, ok := v.(*relaymodel.RequestContext)
	return rc, ok
}

func getApiEndpoint(c *gin.Context) (endpoint.ApiEndpoint, bool) {
	v, ok := c.Get(ctxkey.ApiEndpoint)
	if !ok {
		return endpoint.ApiEndpoint{}, false
	}
	e, ok := v.(endpoint.ApiEndpoint)
	return e, ok
}

func getMapperContext(c *gin.Context) (*relaymodel.MapperContext, bool) {
	v, ok := c.Get(ctxkey.MapperContext)
	if !ok {
		return nil, false
	}
	m, ok := v.(*relaymodel.MapperContext)
	return m, ok
}
