package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerRecordsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))

	r := httptest.NewRequest("GET", "/conversations", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	h.ServeHTTP(httptest.NewRecorder(), r)

	out := buf.String()
	for _, want := range []string{
		`"method":"GET"`,
		`"path":"/conversations"`,
		`"status":418`,
		`"bytes":15`,
		`"ip":"192.0.2.1"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}
