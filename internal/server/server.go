// Package server exposes viewer sessions over WebSocket: each connection
// mounts one viewer and feeds it the notifications the surface sends.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/fakeyudi/viewtrack/internal/adapter"
	"github.com/fakeyudi/viewtrack/internal/clock"
	"github.com/fakeyudi/viewtrack/internal/identity"
	"github.com/fakeyudi/viewtrack/internal/journal"
	"github.com/fakeyudi/viewtrack/internal/logger"
	"github.com/fakeyudi/viewtrack/internal/metrics"
	"github.com/fakeyudi/viewtrack/internal/schedule"
	"github.com/fakeyudi/viewtrack/internal/telemetry"
	"github.com/fakeyudi/viewtrack/internal/viewer"
)

// UserIDCookie carries the viewer's user id between visits.
const UserIDCookie = "viewtrack_uid"

// Config configures a Server.
type Config struct {
	Clock  clock.Clock
	Sender schedule.Sender
	// Resolver fills in identities. Nil leaves them pending.
	Resolver *identity.Resolver
	// Options returns the viewer options for a surface.
	Options func(telemetry.Surface) viewer.Options

	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
	// JournalDir, when set, receives one journal file per session.
	JournalDir string
	// IdleTimeout closes a socket that sends nothing for this long.
	IdleTimeout time.Duration

	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server serves viewer sessions.
type Server struct {
	cfg      Config
	log      *zap.Logger
	upgrader websocket.Upgrader
	handler  http.Handler

	mu       sync.Mutex
	sessions map[*session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

type session struct {
	v      *viewer.Viewer
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	jw     *journal.Writer
	jf     *os.File
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Options == nil {
		cfg.Options = func(telemetry.Surface) viewer.Options { return viewer.DefaultOptions() }
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}

	s := &Server{
		cfg:      cfg,
		log:      logger.OrNop(cfg.Logger),
		sessions: make(map[*session]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v/{subject}/ws", s.handleSession).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet},
		AllowCredentials: true,
	}).Handler(router)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Active returns the number of mounted sessions.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "sessions": s.Active()})
}

// SubjectFromRequest builds the subject of a session request. The surface
// comes from the surface parameter, or else from the mime parameter.
func SubjectFromRequest(r *http.Request) telemetry.Subject {
	q := r.URL.Query()
	surface := telemetry.Surface(strings.ToLower(q.Get("surface")))
	if surface == "" && q.Get("mime") != "" {
		surface = telemetry.SurfaceForMIME(q.Get("mime"))
	}
	return telemetry.Subject{
		ID:        mux.Vars(r)["subject"],
		SourceURL: q.Get("src"),
		Surface:   surface,
	}
}

// HintFromRequest collects what the request says about the viewer.
func HintFromRequest(r *http.Request) identity.Hint {
	h := identity.Hint{
		RemoteIP:  remoteIP(r),
		UserAgent: r.UserAgent(),
		Screen:    r.URL.Query().Get("screen"),
	}
	if c, err := r.Cookie(UserIDCookie); err == nil {
		h.StoredUserID = c.Value
	}
	return h
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	subject := SubjectFromRequest(r)
	hint := HintFromRequest(r)

	if err := subject.Validate(); err != nil {
		http.Error(w, "unknown subject", http.StatusNotFound)
		return
	}

	opts := s.cfg.Options(subject.Surface)
	opts.Logger = s.cfg.Logger
	opts.Metrics = s.cfg.Metrics
	if subject.Surface.Kind() == telemetry.KindPage && opts.Adapter.AllowedOrigin == "" {
		opts.Adapter.AllowedOrigin = originOf(subject.SourceURL)
	}

	header := http.Header{}
	if hint.StoredUserID == "" && s.cfg.Resolver != nil {
		cookie := &http.Cookie{
			Name:     UserIDCookie,
			Value:    s.cfg.Resolver.Device(hint).UserID,
			Path:     "/",
			MaxAge:   365 * 24 * 60 * 60,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		}
		header.Add("Set-Cookie", cookie.String())
	}

	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// The upgrader has already answered the request. No viewer exists
		// yet, so nothing is flushed for a session that never connected.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		closeWith(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	ids := identity.NewContext(identity.Pending())
	v, err := viewer.Mount(s.cfg.Clock, subject, ids, s.cfg.Sender, opts)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("mount viewer", zap.Error(err))
		closeWith(conn, websocket.CloseInternalServerErr, "mount failed")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{v: v, conn: conn, ctx: ctx, cancel: cancel}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.openJournal(sess, subject, ids); err != nil {
		s.log.Warn("journal disabled for session", zap.String("session_id", v.SessionID()), zap.Error(err))
	}
	if s.cfg.Resolver != nil {
		go s.cfg.Resolver.Resolve(ctx, hint, ids)
	}
	go s.serve(sess)
}

func (s *Server) openJournal(sess *session, subject telemetry.Subject, ids *identity.Context) error {
	if s.cfg.JournalDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.cfg.JournalDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(s.cfg.JournalDir, sess.v.SessionID()+".jsonl"))
	if err != nil {
		return err
	}
	jw := journal.NewWriter(f)
	if err := jw.Mount(s.cfg.Clock.Now(), subject); err != nil {
		f.Close()
		return err
	}
	sess.jf, sess.jw = f, jw
	unsubscribe := ids.Subscribe(func(id identity.Identity) {
		jw.Identity(s.cfg.Clock.Now(), id)
	})
	context.AfterFunc(sess.ctx, unsubscribe)
	return nil
}

// serve runs the read loop of one session and tears it down when the
// socket closes, the session goes stale or the server shuts down.
func (s *Server) serve(sess *session) {
	defer s.wg.Done()
	log := s.log.With(zap.String("session_id", sess.v.SessionID()))

	go func() {
		select {
		case <-sess.v.Stale():
			closeWith(sess.conn, websocket.ClosePolicyViolation, "session expired")
		case <-sess.ctx.Done():
		}
	}()

	for {
		sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		kind, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.ClosePolicyViolation) {
				log.Info("websocket closed", zap.Error(err))
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}
		var n adapter.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			log.Debug("dropping malformed notification", zap.Error(err))
			continue
		}
		if sess.jw != nil {
			sess.jw.Notification(s.cfg.Clock.Now(), n)
		}
		if err := sess.v.Handle(n); err != nil {
			break
		}
	}

	sess.cancel()
	sess.conn.Close()
	if _, err := sess.v.Close(); err != nil {
		log.Warn("final flush failed", zap.Error(err))
	}
	if sess.jf != nil {
		sess.jf.Close()
	}

	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	conn.Close()
}

// Shutdown refuses new sessions, closes every open socket and waits until
// each session has made its final flush or ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	open := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		closeWith(sess.conn, websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %d sessions still closing: %w", s.Active(), ctx.Err())
	}
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
	}
	return s.Shutdown(shutdownCtx)
}

func originOf(src string) string {
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
