package app

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/tessera/internal/platform/id"
	"github.com/louisbranch/tessera/internal/platform/timeouts"
)

// wsPeer serializes writes to one websocket connection. Frames are sent
// in the order Send is called.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn}
}

func (p *wsPeer) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.Message.Send(p.conn, string(payload))
}

type wsUserIDContextKey struct{}

// Server hosts the engine websocket endpoint.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer wires the engine handler behind /ws on the given address.
func NewServer(addr string, eng *engine, authorizer wsAuthorizer) *Server {
	s := &Server{
		httpAddr:        addr,
		shutdownTimeout: timeouts.Shutdown,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           newHandler(eng, authorizer, authorizer != nil),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return s
}

func newHandler(eng *engine, authorizer wsAuthorizer, requireAuth bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		eng.handleWSConn(conn)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if requireAuth {
			if authorizer == nil {
				http.Error(w, "websocket auth is not configured", http.StatusServiceUnavailable)
				return
			}

			token := accessTokenFromRequest(r)
			if token == "" {
				log.Printf("engine: websocket unauthorized: missing token for remote=%s path=%q", r.RemoteAddr, r.URL.Path)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			userID, err := authorizer.Authenticate(r.Context(), token)
			if err != nil || strings.TrimSpace(userID) == "" {
				if err != nil {
					log.Printf("engine: websocket unauthorized: token rejected for remote=%s err=%v", r.RemoteAddr, err)
				} else {
					log.Printf("engine: websocket unauthorized: empty user id for remote=%s", r.RemoteAddr)
				}
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), wsUserIDContextKey{}, strings.TrimSpace(userID))
			r = r.WithContext(ctx)
		}

		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

const tokenCookieName = "tessera_token"

func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// handleWSConn runs the frame loop for one connection until it closes.
func (e *engine) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	userID := "participant"
	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok && strings.TrimSpace(resolved) != "" {
			userID = strings.TrimSpace(resolved)
		}
	}

	client := &wsClient{
		connID: id.MustNewID(),
		userID: userID,
		peer:   newWSPeer(conn),
	}
	defer e.handleDisconnect(client)

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if stderrors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			client.send(invalidFrameError("", "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			client.send(invalidFrameError(frame.RequestID, "payload too large"))
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			client.send(invalidFrameError(frame.RequestID, "rate limit exceeded"))
			return
		}

		e.handleFrame(ctx, client, frame)
	}
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpAddr)
	if err != nil {
		return err
	}
	log.Printf("engine: listening on %s", listener.Addr())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return s.httpServer.Close()
		}
		return nil
	}
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
