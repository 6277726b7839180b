package restyutil

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mutex    sync.Mutex
	messages map[string]string
}

func (o *memoryOutput) Write(id string, contents string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.messages[id] = contents
}

func withLogLevel(t testing.TB, level slog.Level) {
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() {
		slog.SetDefault(previous)
	})
}

func newEchoServer(t testing.TB) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /echo", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("x-echo", "yes")
		fmt.Fprintf(w, "hello %s", r.PostForm.Get("name"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestInstrumentClient(t *testing.T) {
	withLogLevel(t, slog.LevelDebug)
	server := newEchoServer(t)

	output := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, "echo", output)

	for i := 0; i < 2; i++ {
		res, err := client.R().
			SetFormData(map[string]string{"name": "tanaka"}).
			Post("/echo")
		require.NoError(t, err)
		require.Equal(t, "hello tanaka", res.String())
	}

	require.Len(t, output.messages, 2)
	message, ok := output.messages["echo-1"]
	require.True(t, ok)
	require.Contains(t, message, "---- REQUEST ----")
	require.Contains(t, message, "POST "+server.URL+"/echo")
	require.Contains(t, message, "name=tanaka")
	require.Contains(t, message, "200 "+server.URL+"/echo")
	require.Contains(t, message, "X-Echo: yes")
	require.True(t, strings.HasSuffix(message, "hello tanaka"))
	require.Contains(t, output.messages, "echo-2")
}

func TestInstrumentClientQuiet(t *testing.T) {
	withLogLevel(t, slog.LevelInfo)
	server := newEchoServer(t)

	output := &memoryOutput{messages: map[string]string{}}
	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, "echo", output)

	_, err := client.R().Post("/echo")
	require.NoError(t, err)
	require.Empty(t, output.messages)
}

func TestInstrumentClientNilOutput(t *testing.T) {
	withLogLevel(t, slog.LevelDebug)
	server := newEchoServer(t)

	client := resty.New().SetBaseURL(server.URL)
	InstrumentClient(client, "echo", nil)

	res, err := client.R().Post("/echo")
	require.NoError(t, err)
	require.Equal(t, "hello ", string(res.Body()))
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale"), []byte("old"), 0600))

	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "stale"))
	require.ErrorIs(t, err, os.ErrNotExist)

	output.Write("rakuraku-1", "contents")
	written, err := os.ReadFile(filepath.Join(dir, "rakuraku-1"))
	require.NoError(t, err)
	require.Equal(t, "contents", string(written))
}
