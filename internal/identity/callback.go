package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// CallbackPath is the redirect path registered with the provider.
const CallbackPath = "/callback"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>tasksync</title></head>
<body style="font-family: sans-serif; text-align: center; padding-top: 50px;">
<h2>tasksync</h2>
<p>{{.}}</p>
<p>You can close this window and return to the terminal.</p>
<script>window.close();</script>
</body>
</html>
`))

// renderPage renders the confirmation page shown in the browser.
func renderPage(message string) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, message); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// callbackServer is the loopback listener that receives the redirect.
type callbackServer struct {
	srv      *http.Server
	port     int
	resultCh chan CallbackResult
	logger   *slog.Logger
}

// startCallbackServer binds 127.0.0.1 on an ephemeral port and serves
// redirects through the manager. The first relevant callback is delivered
// on resultCh.
func startCallbackServer(ctx context.Context, m *Manager, logger *slog.Logger) (*callbackServer, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("identity: binding loopback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, errors.New("identity: listener address is not TCP")
	}

	cs := &callbackServer{
		port:     tcpAddr.Port,
		resultCh: make(chan CallbackResult, 1),
		logger:   logger,
	}

	cs.srv = &http.Server{
		Handler:           recoverHandler(callbackHandler(m, cs.resultCh, logger), logger),
		ReadHeaderTimeout: shutdownTimeout,
	}

	logger.Info("callback server listening", slog.Int("port", cs.port))

	go func() {
		if serveErr := cs.srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Warn("callback server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	return cs, nil
}

// RedirectURI is the loopback redirect for this server.
func (cs *callbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", cs.port, CallbackPath)
}

// shutdown gracefully stops the server.
func (cs *callbackServer) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := cs.srv.Shutdown(shutdownCtx); err != nil {
		cs.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// callbackHandler answers 200 with a confirmation page for relevant
// callbacks, 400 for discarded ones, and 404 for anything else.
func callbackHandler(m *Manager, resultCh chan<- CallbackResult, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != CallbackPath {
			http.NotFound(w, r)
			return
		}

		res := m.HandleCallback(r.URL.Query())

		switch res.Outcome {
		case OutcomeIrrelevant:
			http.NotFound(w, r)
			return
		case OutcomeNoPending, OutcomeStateMismatch:
			http.Error(w, "Login request not recognized", http.StatusBadRequest)
			return
		case OutcomeAccepted, OutcomeProviderError:
		}

		message := "Login successful!"
		if res.Outcome == OutcomeProviderError {
			message = "Login was not completed: " + res.ProviderError
		}

		page, err := renderPage(message)
		if err != nil {
			logger.Error("rendering callback page", slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
		} else {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(page)
		}

		select {
		case resultCh <- res:
		default:
		}
	})
}

// recoverHandler turns a panic in next into a 500.
func recoverHandler(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				logger.Error("panic in callback handler", slog.Any("panic", rv))
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
