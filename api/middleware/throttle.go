package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/supermarket-backend/api/responses"
	"github.com/angelmondragon/supermarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/supermarket-backend/pkg/errors"
	"github.com/angelmondragon/supermarket-backend/pkg/logger"
	"github.com/angelmondragon/supermarket-backend/pkg/redis"
)

// maxThrottledBody bounds how much of a credentials body is buffered to find
// the email.
const maxThrottledBody = 16 << 10

// WindowCounter counts hits on a key inside a fixed window.
type WindowCounter interface {
	CountInWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Throttle caps credential attempts on one auth surface, per client address
// and per account email. A zero limit switches that dimension off.
type Throttle struct {
	Surface    string
	Window     time.Duration
	PerAddress int
	PerEmail   int
}

// LoginThrottle guards POST /auth/login.
func LoginThrottle(cfg config.AuthRateLimitConfig) Throttle {
	return Throttle{Surface: "login", Window: cfg.LoginWindow, PerAddress: cfg.LoginIPLimit, PerEmail: cfg.LoginEmailLimit}
}

// RegisterThrottle guards POST /auth/register.
func RegisterThrottle(cfg config.AuthRateLimitConfig) Throttle {
	return Throttle{Surface: "register", Window: cfg.RegisterWindow, PerAddress: cfg.RegisterIPLimit, PerEmail: cfg.RegisterEmailLimit}
}

type bucket struct {
	dimension string
	subject   string
	limit     int
}

// Middleware rejects a request with 429 and Retry-After once any bucket it
// falls into is over its limit. Counter failures fail closed.
func (t Throttle) Middleware(counter WindowCounter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if counter == nil || t.Window <= 0 || (t.PerAddress <= 0 && t.PerEmail <= 0) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buckets, err := t.buckets(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			for _, b := range buckets {
				hits, err := counter.CountInWindow(r.Context(), redis.ThrottleKey(t.Surface, b.dimension, b.subject), t.Window)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "auth throttle unavailable"))
					return
				}
				if hits > int64(b.limit) {
					t.reject(r.Context(), logg, w, b, hits)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// buckets lists the counters a request is charged against. Reading the email
// consumes the body, so it is put back for the handler.
func (t Throttle) buckets(r *http.Request) ([]bucket, error) {
	var out []bucket
	if t.PerAddress > 0 {
		if addr := remoteAddress(r); addr != "" {
			out = append(out, bucket{dimension: "addr", subject: addr, limit: t.PerAddress})
		}
	}
	if t.PerEmail > 0 && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxThrottledBody))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
		}
		r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(body), r.Body), Closer: r.Body}
		if email := emailOf(body); email != "" {
			out = append(out, bucket{dimension: "email", subject: email, limit: t.PerEmail})
		}
	}
	return out, nil
}

func (t Throttle) reject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, b bucket, hits int64) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"surface":   t.Surface,
			"dimension": b.dimension,
			"subject":   b.subject,
			"hits":      hits,
			"limit":     b.limit,
		}), "auth attempt throttled")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(t.Window.Round(time.Second)/time.Second)))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many attempts, try again later"))
}

type readCloser struct {
	io.Reader
	io.Closer
}

// remoteAddress prefers the first hop of X-Forwarded-For, which the load
// balancer in front of the API sets.
func remoteAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return strings.TrimSpace(host)
}

// emailOf returns a digest of the normalized email in a credentials body so
// raw addresses never land in Redis or the logs.
func emailOf(body []byte) string {
	var creds struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(body, &creds) != nil {
		return ""
	}
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:12])
}
