package serviceutil

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Returns a context that will live until Ctrl+C is pressed
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		slog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	return ctx
}

// StartHttpServer serves handler (with h2c) until ctx is done, then shuts the
// server down gracefully.
func StartHttpServer(ctx context.Context, port int, handler http.Handler) error {
	server := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: time.Second * 10,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if err != nil {
			slog.Warn("shutdown http server", "err", err)
		}
	}()

	slog.Info("listening to http...", "port", port)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func Fatal(message string, err error) {
	slog.Error(message, "err", err.Error())
	os.Exit(1)
}

// RequireBearerToken rejects requests without "Authorization: Bearer <token>",
// an empty token disables the check. Paths in `public` are always let through.
func RequireBearerToken(accessToken string, next http.Handler, public ...string) http.Handler {
	if accessToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, p := range public {
			if r.URL.Path == p {
				next.ServeHTTP(w, r)
				return
			}
		}

		token := strings.Split(r.Header.Get("Authorization"), " ")
		if len(token) != 2 ||
			!strings.EqualFold(token[0], "Bearer") ||
			subtle.ConstantTimeCompare([]byte(token[1]), []byte(accessToken)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
