package server

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/pipeline"
)

const HeaderAccessKey = "X-Access-Key"

type sessionKey struct{}

// WithSession stores the caller's session.
func WithSession(ctx context.Context, sess *pipeline.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session set by the gate, if any.
func SessionFromContext(ctx context.Context) *pipeline.Session {
	sess, _ := ctx.Value(sessionKey{}).(*pipeline.Session)
	return sess
}

// Gate checks a shared access key against a bcrypt hash. A nil Gate lets
// every request through.
type Gate struct {
	hash   []byte
	logger *slog.Logger
}

func NewGate(hash string, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "CSF_ACCESS_KEY_HASH is not a bcrypt hash", err)
	}
	return &Gate{hash: []byte(hash), logger: logger}, nil
}

// Check reports whether key matches the configured hash.
func (g *Gate) Check(key string) bool {
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, []byte(key)) == nil
}

// Middleware attaches a session to every request and rejects those whose key
// does not match. The key comes from X-Access-Key or the basic auth password.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, key := credentials(r)
		if g == nil {
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), pipeline.NewSession(operator, true))))
			return
		}
		if !g.Check(key) {
			g.logger.Warn("gate.rejected", "remote", r.RemoteAddr, "operator", operator, "request_id", common.RequestIDFromContext(r.Context()))
			w.Header().Set("WWW-Authenticate", `Basic realm="csf"`)
			writeError(w, common.NewAppError("UNAUTHORIZED", "access key required", common.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), pipeline.NewSession(operator, true))))
	})
}

func credentials(r *http.Request) (operator, key string) {
	user, pass, ok := r.BasicAuth()
	if ok {
		operator, key = user, pass
	}
	if k := r.Header.Get(HeaderAccessKey); k != "" {
		key = k
	}
	if operator == "" {
		operator = "http"
	}
	return operator, key
}
