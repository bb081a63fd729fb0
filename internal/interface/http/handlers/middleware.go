package handlers

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
	"github.com/markdotcom5/SharedStarsFinal-sub001/pkg/logger"
)

// Context keys set by the middleware.
const (
	ContextCallerIDKey  = "caller_id"
	ContextRequestIDKey = "request_id"

	HeaderRequestID = "X-Request-ID"
	HeaderUserID    = "X-User-ID"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID & LOGGING MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RequestID propagates or generates X-Request-ID and attaches a request
// scoped logger to the request context.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestIDKey, id)
		c.Header(HeaderRequestID, id)

		ctx := logger.WithContext(c.Request.Context(), log.WithRequestID(id))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLog logs every request after it has been served.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String(logger.RequestIDKey, c.GetString(ContextRequestIDKey)),
		}
		if caller := c.GetString(ContextCallerIDKey); caller != "" {
			fields = append(fields, logger.UserID(caller))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// Recovery turns panics into a 500 response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					logger.Any("error", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
					logger.String(logger.RequestIDKey, c.GetString(ContextRequestIDKey)),
				)
				AbortWithError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// IdentityConfig configures how the caller is identified.
type IdentityConfig struct {
	// JWTSecret verifies HS256 bearer tokens; the subject claim is the user ID.
	JWTSecret string

	// AllowHeaderIdentity trusts X-User-ID. For development and internal
	// callers behind an authenticating proxy.
	AllowHeaderIdentity bool
}

var (
	errMissingIdentity = errors.New("missing credentials")
	errBadAuthHeader   = errors.New("invalid authorization header format")
)

// Identity resolves the caller and stores it under ContextCallerIDKey.
func Identity(cfg IdentityConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		callerID, err := resolveCaller(c, cfg)
		if err != nil {
			AbortWithError(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		c.Set(ContextCallerIDKey, callerID)
		c.Next()
	}
}

func resolveCaller(c *gin.Context, cfg IdentityConfig) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errBadAuthHeader
		}
		if cfg.JWTSecret == "" {
			return "", errors.New("bearer tokens are not accepted")
		}
		subject, err := ParseToken(strings.TrimSpace(parts[1]), cfg.JWTSecret)
		if err != nil {
			return "", errors.New("invalid token")
		}
		return validCaller(subject)
	}

	if cfg.AllowHeaderIdentity {
		if id := c.GetHeader(HeaderUserID); id != "" {
			return validCaller(id)
		}
	}
	return "", errMissingIdentity
}

func validCaller(id string) (string, error) {
	uid, err := shared.NewUserID(id)
	if err != nil {
		return "", errors.New("invalid user id")
	}
	return uid.String(), nil
}

// ParseToken verifies an HS256 token and returns its subject.
func ParseToken(token, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// IssueToken signs an HS256 token for userID. Used by tests and tooling.
func IssueToken(userID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// CallerID returns the identified caller.
func CallerID(c *gin.Context) string {
	return c.GetString(ContextCallerIDKey)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time

	// retryAfter is the Retry-After value in seconds.
	retryAfter string
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per client with a burst of half
// that.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute < 1 {
		perMinute = 1
	}
	interval := time.Minute / time.Duration(perMinute)
	return &RateLimiter{
		limiters:   make(map[string]*clientLimiter),
		limit:      rate.Every(interval),
		burst:      max(perMinute/2, 1),
		idle:       5 * time.Minute,
		now:        time.Now,
		retryAfter: strconv.Itoa(int(interval.Seconds()) + 1),
	}
}

// Allow reports whether the client may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) > rl.idle {
			delete(rl.limiters, k)
		}
	}

	cl, ok := rl.limiters[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Middleware rejects clients over their budget with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.Header("Retry-After", rl.retryAfter)
			AbortWithError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// Respond writes data in the envelope.
func Respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: c.GetString(ContextRequestIDKey),
	})
}

// AbortWithError writes an error envelope and stops the chain.
func AbortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: c.GetString(ContextRequestIDKey),
	})
}
