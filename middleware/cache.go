package middleware

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/meridianhq/ai-gateway/cache"
	"github.com/meridianhq/ai-gateway/common"
	"github.com/meridianhq/ai-gateway/common/config"
	"github.com/meridianhq/ai-gateway/common/ctxkey"
	"github.com/meridianhq/ai-gateway/relay/metrics"
	relaymodel "github.com/meridianhq/ai-gateway/relay/model"
)

const (
	headerCache          = "helicone-cache"
	headerCacheBucketIdx = "helicone-cache-bucket-idx"

	reqHeaderCacheEnabled   = "helicone-cache-enabled"
	reqHeaderCacheBucketMax = "helicone-cache-bucket-max-size"
	reqHeaderCacheSeed      = "helicone-cache-seed"
)

// cacheIntent is the merged caching decision for one request. Precedence is
// last-writer-wins: global config, then router config, then request headers.
type cacheIntent struct {
	enabled bool
	buckets int
	seed    string
	maxAge  time.Duration
}

func mergeIntent(c *gin.Context, globalCfg *config.CacheConfig) (cacheIntent, *relaymodel.GatewayError) {
	var intent cacheIntent
	apply := func(cfg *config.CacheConfig) {
		if cfg == nil {
			return
		}
		intent.enabled = cfg.Enabled
		if cfg.Buckets > 0 {
			intent.buckets = cfg.Buckets
		}
		if cfg.Seed != "" {
			intent.seed = cfg.Seed
		}
		if cfg.MaxAge > 0 {
			intent.maxAge = cfg.MaxAge
		}
	}

	apply(globalCfg)
	if v, ok := c.Get(ctxkey.RouterConfig); ok {
		if rc, ok := v.(*config.RouterConfig); ok {
			apply(rc.Cache)
		}
	}

	if v := c.Request.Header.Get(reqHeaderCacheEnabled); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return intent, relaymodel.NewInvalidRequest("invalid " + reqHeaderCacheEnabled + " header")
		}
		intent.enabled = enabled
	}
	if v := c.Request.Header.Get(reqHeaderCacheBucketMax); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > cache.MaxBuckets {
			return intent, relaymodel.NewInvalidRequest("invalid " + reqHeaderCacheBucketMax + " header")
		}
		intent.buckets = n
	}
	if v := c.Request.Header.Get(reqHeaderCacheSeed); v != "" {
		intent.seed = v
	}

	if intent.buckets < 1 {
		intent.buckets = 1
	}
	return intent, nil
}

// Cache is the HTTP-semantics-aware response cache layer. One instance
// serves every router over a shared bucketed store; mergeIntent folds the
// global and per-router settings together per request.
func Cache(buckets *cache.Buckets, globalCfg *config.CacheConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		intent, gerr := mergeIntent(c, globalCfg)
		if gerr != nil {
			AbortWithGatewayError(c, gerr)
			return
		}
		// Disabled after merge: strict pass-through, no cache headers.
		if !intent.enabled {
			c.Next()
			return
		}

		body, err := common.GetRequestBody(c)
		if err != nil {
			AbortWithGatewayError(c, relaymodel.NewInternal("read request body", err))
			return
		}
		pathAndQuery := c.Request.URL.RequestURI()
		now := time.Now()

		reqPolicy := cache.PolicyFromRequest(c.Request.Header, intent.maxAge)
		if reqPolicy.MaxAge <= 0 {
			// Nothing grants a freshness window; behave as a pass-through.
			c.Next()
			return
		}

		entry, bucket, fresh, stale, staleBucket := buckets.Lookup(intent.seed, pathAndQuery, body, intent.buckets, now)
		if fresh {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			c.Set(ctxkey.CacheHit, true)
			serveEntry(c, entry, bucket, "hit")
			return
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

		// Stale revalidation: attach conditional headers derived from the
		// stored policy before the upstream call.
		if stale != nil {
			for name, value := range stale.Policy.ConditionalHeaders() {
				c.Request.Header.Set(name, value)
			}
		}

		writer := newBufferingWriter(c.Writer)
		c.Writer = writer

		c.Next()

		c.Writer = writer.ResponseWriter
		if writer.streamed {
			// SSE responses already went to the wire uncached.
			return
		}

		status := writer.status
		if stale != nil && status == http.StatusNotModified {
			// Upstream confirmed the stale entry; refresh and serve it.
			refreshed := *stale
			refreshed.Policy.StoredAt = now
			buckets.Put(intent.seed, pathAndQuery, body, staleBucket, &refreshed)
			serveEntry(c, &refreshed, staleBucket, "hit")
			return
		}

		respPolicy := reqPolicy.Refine(writer.Header(), now)
		if respPolicy.Storable(status) {
			storeBucket := staleBucket
			if stale == nil {
				storeBucket = buckets.ChooseBucket(intent.seed, pathAndQuery, body, intent.buckets)
			}
			headers := make(map[string]string, 4)
			for _, name := range []string{"Content-Type", "ETag", "Last-Modified", "Cache-Control"} {
				if v := writer.Header().Get(name); v != "" {
					headers[name] = v
				}
			}
			buckets.Put(intent.seed, pathAndQuery, body, storeBucket, &cache.Entry{
				Body:    append([]byte(nil), writer.body.Bytes()...),
				Headers: headers,
				Status:  status,
				Policy:  respPolicy,
				Proto:   c.Request.Proto,
			})
			writer.Header().Set(headerCache, "miss")
			writer.Header().Set(headerCacheBucketIdx, strconv.Itoa(storeBucket))
			gmw.GetLogger(c).Debug("response cached",
				zap.Int("bucket", storeBucket),
				zap.Int("bytes", writer.body.Len()))
		}
		// Not storable: flush as-is with no cache header.

		writer.flush()
	}
}

func serveEntry(c *gin.Context, entry *cache.Entry, bucket int, outcome string) {
	for name, value := range entry.Headers {
		c.Writer.Header().Set(name, value)
	}
	c.Writer.Header().Set(headerCache, outcome)
	c.Writer.Header().Set(headerCacheBucketIdx, strconv.Itoa(bucket))
	c.Writer.Header().Set("Content-Length", strconv.Itoa(len(entry.Body)))
	c.Status(entry.Status)
	_, _ = c.Writer.Write(entry.Body)
	c.Abort()
}

// bufferingWriter holds back non-streaming responses until the middleware
// has decided whether to store them, so cache headers can still be set.
// Event streams are passed through untouched from the first write.
type bufferingWriter struct {
	gin.ResponseWriter
	body     *bytes.Buffer
	status   int
	streamed bool
	wrote    bool
}

func newBufferingWriter(w gin.ResponseWriter) *bufferingWriter {
	return &bufferingWriter{ResponseWriter: w, body: &bytes.Buffer{}, status: http.StatusOK}
}

func (w *bufferingWriter) WriteHeader(code int) {
	if w.streamed {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.status = code
}

func (w *bufferingWriter) Status() int {
	if w.streamed {
		return w.ResponseWriter.Status()
	}
	return w.status
}

func (w *bufferingWriter) Write(data []byte) (int, error) {
	if !w.wrote && strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
		w.streamed = true
		w.ResponseWriter.WriteHeader(w.status)
	}
	w.wrote = true
	if w.streamed {
		return w.ResponseWriter.Write(data)
	}
	return w.body.Write(data)
}

func (w *bufferingWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// flush replays the buffered response onto the real writer.
func (w *bufferingWriter) flush() {
	if w.streamed {
		return
	}
	w.ResponseWriter.WriteHeader(w.status)
	if w.body.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.body.Bytes())
	}
}
