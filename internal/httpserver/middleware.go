package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"aquavo-api/internal/metrics"
	"aquavo-api/internal/ratelimit"
	"aquavo-api/internal/sanitize"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestID"
	bodyKey         = "sanitizedBody"
)

const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline' 'unsafe-eval' https://cdn.jsdelivr.net https://unpkg.com; " +
	"style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; " +
	"img-src 'self' data: https: blob:; " +
	"font-src 'self' data: https://fonts.gstatic.com; " +
	"connect-src 'self' https://api.unsplash.com; " +
	"frame-ancestors 'none';"

// DefaultAllowedOrigins are always accepted by the CORS stage in addition to
// the configured client URL.
var DefaultAllowedOrigins = []string{
	"http://localhost:5000",
	"http://localhost:3000",
	"https://fist-live.vercel.app",
	"https://aquavo.iq",
}

var suspiciousPaths = []*regexp.Regexp{
	regexp.MustCompile(`(?i)admin`),
	regexp.MustCompile(`(?i)wp-admin`),
	regexp.MustCompile(`(?i)phpmyadmin`),
	regexp.MustCompile(`(?i)\.php$`),
	regexp.MustCompile(`(?i)\.env$`),
	regexp.MustCompile(`(?i)\.git`),
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func accessLogMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": requestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"ip":         c.ClientIP(),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("request")
			return
		}
		entry.Info("request")
	}
}

func recoveryMiddleware(logger logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.WithFields(logrus.Fields{
			"request_id": requestID(c),
			"panic":      recovered,
			"path":       c.Request.URL.Path,
		}).Error("panic recovered")
		abortWith(c, http.StatusInternalServerError, msgInternal)
	})
}

func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// rateLimitMiddleware counts every request against the client IP as gin
// resolves it: forwarding headers only count when the peer is a trusted
// proxy. When the backing store fails the request is let through.
func rateLimitMiddleware(l *ratelimit.Limiter, scope string, m *metrics.Metrics, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		d, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			logger.WithError(err).WithField("scope", scope).Warn("rate limit store unavailable")
			c.Next()
			return
		}

		remaining := l.Max() - d.Count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(l.Max()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if d.Exceeded {
			retryAfter := l.RetryAfterSeconds()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			m.RateLimited.WithLabelValues(scope).Inc()
			logger.WithFields(logrus.Fields{"ip": ip, "scope": scope, "path": c.Request.URL.Path}).Info("rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      msgRateLimited,
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// requestSizeMiddleware rejects declared oversized bodies up front and caps
// the bytes actually read for chunked or lying requests.
func requestSizeMiddleware(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > max {
			abortWith(c, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}

// corsMiddleware sets the shared CORS headers on every response and only
// reflects origins from the allow-list. Preflight requests end here with 204
// whether or not the origin is allowed.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	reflectOrigin := cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-CSRF-Token"},
		ExposeHeaders:    []string{requestIDHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	})

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		origin := c.GetHeader("Origin")
		if c.Request.Method == http.MethodOptions {
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if origin != "" && allowed[origin] {
			reflectOrigin(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// allowedOrigins merges the fixed list with the configured client URL. Only
// http and https origins are kept.
func allowedOrigins(clientURL string) []string {
	out := append([]string{}, DefaultAllowedOrigins...)
	clientURL = strings.TrimRight(strings.TrimSpace(clientURL), "/")
	if clientURL == "" {
		return out
	}
	if !strings.HasPrefix(clientURL, "http://") && !strings.HasPrefix(clientURL, "https://") {
		return out
	}
	for _, o := range out {
		if o == clientURL {
			return out
		}
	}
	return append(out, clientURL)
}

func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", contentSecurityPolicy)
		c.Next()
	}
}

// sanitizeBodyMiddleware decodes JSON bodies, strips prototype-polluting
// keys and hands the cleaned value to handlers through the context. The
// request body is replaced with the cleaned encoding.
func sanitizeBodyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || !isJSON(c.ContentType()) {
			c.Next()
			return
		}
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				abortWith(c, http.StatusRequestEntityTooLarge, msgTooLarge)
				return
			}
			abortWith(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		if len(bytes.TrimSpace(data)) == 0 {
			c.Request.Body = io.NopCloser(bytes.NewReader(data))
			c.Next()
			return
		}

		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var raw any
		if err := dec.Decode(&raw); err != nil {
			abortWith(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		cleaned := sanitize.Object(raw)
		encoded, err := json.Marshal(cleaned)
		if err != nil {
			abortWith(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		c.Set(bodyKey, cleaned)
		c.Request.Body = io.NopCloser(bytes.NewReader(encoded))
		c.Request.ContentLength = int64(len(encoded))
		c.Next()
	}
}

func isJSON(contentType string) bool {
	return contentType == "application/json" || strings.HasSuffix(contentType, "+json")
}

// securityLoggerMiddleware flags requests for paths commonly targeted by
// scanners. It never blocks.
func securityLoggerMiddleware(m *metrics.Metrics, logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, p := range suspiciousPaths {
			if p.MatchString(path) {
				m.SuspiciousRequests.Inc()
				logger.WithFields(logrus.Fields{
					"ip":        c.ClientIP(),
					"timestamp": time.Now().UTC().Format(time.RFC3339),
					"method":    c.Request.Method,
					"path":      path,
				}).Warn("suspicious request")
				break
			}
		}
		c.Next()
	}
}
