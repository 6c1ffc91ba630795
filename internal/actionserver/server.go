// Package actionserver serves the Fern action contract from memory: a page
// that publishes a nonce and an action endpoint backed by per-session carts.
package actionserver

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Olympe-Studio/ferndev/internal/action"
	"github.com/Olympe-Studio/ferndev/internal/platform/observability"
)

const sessionCookieName = "fern_session"

type ctxKey string

const ctxKeySession ctxKey = "session"

type session struct {
	id    string
	nonce string
	cart  serverCart
}

type actionHandler struct {
	mutating bool
	fn       func(sess *session, args map[string]any) (map[string]any, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = observability.OrNop(logger)
	}
}

// WithCatalog replaces the default catalog.
func WithCatalog(c *Catalog) Option {
	return func(s *Server) {
		if c != nil {
			s.catalog = c
		}
	}
}

// WithShop replaces the default shop settings.
func WithShop(shop Shop) Option {
	return func(s *Server) {
		s.shop = shop
	}
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) {
		s.secure = secure
	}
}

// Server holds every session in memory. Sessions are never expired.
type Server struct {
	logger  *zap.Logger
	catalog *Catalog
	shop    Shop
	secure  bool
	actions map[string]actionHandler

	mu       sync.Mutex
	sessions map[string]*session
}

// New builds a Server with the default shop and catalog.
func New(opts ...Option) *Server {
	s := &Server{
		logger:   zap.NewNop(),
		catalog:  DefaultCatalog(),
		shop:     DefaultShop(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.actions = s.actionTable()
	return s
}

// Handler returns the router. Every GET serves the page; POSTs carrying the
// action marker header are dispatched.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Group(func(r chi.Router) {
		r.Use(s.withSession)
		r.Get("/*", s.page)
		r.Post("/*", s.dispatch)
	})
	return r
}

// withSession loads the session named by the cookie or starts a new one.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sess *session
		s.mu.Lock()
		if c, err := r.Cookie(sessionCookieName); err == nil {
			sess = s.sessions[c.Value]
		}
		if sess == nil {
			sess = &session{id: ulid.Make().String(), nonce: ulid.Make().String()}
			s.sessions[sess.id] = sess
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookieName,
				Value:    sess.id,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.secure,
				SameSite: http.SameSiteLaxMode,
				Expires:  time.Now().Add(24 * time.Hour),
			})
		}
		s.mu.Unlock()
		ctx := context.WithValue(r.Context(), ctxKeySession, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session {
	sess, _ := r.Context().Value(ctxKeySession).(*session)
	return sess
}

var pageTemplate = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="{{.Lang}}">
<head><meta charset="utf-8"><title>{{.Shop}}</title></head>
<body>
<h1>{{.Shop}}</h1>
<ul>
{{- range .Products}}
<li data-product-id="{{.ID}}">{{.Name}}</li>
{{- end}}
</ul>
</body>
</html>
`))

func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	w.Header().Set(action.NonceHeader, sess.nonce)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	data := map[string]any{
		"Lang":     s.shop.Locale.String(),
		"Shop":     s.shop.Name,
		"Products": s.catalog.Products(),
	}
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Warn("render page", zap.Error(err))
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if _, ok := r.Header[http.CanonicalHeaderKey(action.MarkerHeader)]; !ok {
		http.NotFound(w, r)
		return
	}
	start := time.Now()
	sess := sessionFrom(r)
	logger := s.logger.With(
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.String("session", sess.id),
	)

	req, err := decodeActionRequest(w, r)
	if err != nil {
		logger.Info("bad action request", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger = logger.With(zap.String("action", req.Name))

	h, ok := s.actions[req.Name]
	if !ok {
		logger.Info("unknown action")
		writeError(w, http.StatusBadRequest, "unknown action "+req.Name)
		return
	}
	if h.mutating && req.Nonce != sess.nonce {
		logger.Warn("action rejected: invalid nonce")
		writeError(w, http.StatusForbidden, "invalid nonce")
		return
	}
	if len(req.Files) > 0 {
		logger.Debug("action files received", zap.Strings("files", req.Files))
	}

	s.mu.Lock()
	payload, err := h.fn(sess, req.Args)
	s.mu.Unlock()

	switch n, soft := isNotice(err); {
	case err == nil:
		logger.Info("action served", zap.Duration("elapsed", time.Since(start)))
		writeJSON(w, http.StatusOK, payload)
	case soft:
		logger.Info("action refused", zap.String("notice", n.msg))
		writeJSON(w, http.StatusOK, map[string]any{"status": "error", "message": n.msg})
	default:
		logger.Info("invalid action args", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"status": "error", "message": msg})
}

// Serve runs the handler on addr until ctx is cancelled. A clean shutdown
// returns nil.
func (s *Server) Serve(ctx context.Context, addr string, wrap func(http.Handler) http.Handler) error {
	h := s.Handler()
	if wrap != nil {
		h = wrap(h)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
