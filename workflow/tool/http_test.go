package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTool_RefusesUnsafeTargets(t *testing.T) {
	h := NewHTTPTool()
	ctx := context.Background()

	cases := map[string]string{
		"missing url":      "",
		"ftp scheme":       "ftp://example.com/file",
		"localhost":        "http://localhost:8080/admin",
		"loopback ip":      "http://127.0.0.1:9090/metrics",
		"private ip":       "http://10.0.0.5/internal",
		"link local":       "http://169.254.169.254/latest/meta-data",
		"unspecified addr": "http://0.0.0.0/",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			input := map[string]any{}
			if target != "" {
				input["url"] = target
			}
			_, err := h.Call(ctx, input)
			assert.Error(t, err)
		})
	}
}

func TestHTTPTool_RefusesUnsupportedMethods(t *testing.T) {
	h := NewHTTPTool()
	h.AllowPrivate = true

	_, err := h.Call(context.Background(), map[string]any{
		"url":    "http://127.0.0.1/thing",
		"method": "DELETE",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported HTTP method")
}

func TestHTTPTool_GetAndPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("X-Kind", "greeting")
			_, _ = w.Write([]byte(`{"msg":"hello"}`))
		case http.MethodPost:
			body := make([]byte, r.ContentLength)
			_, _ = r.Body.Read(body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		}
	}))
	defer server.Close()

	h := NewHTTPTool()
	h.AllowPrivate = true // httptest binds to loopback
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		out, err := h.Call(ctx, map[string]any{"url": server.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, out["status_code"])
		assert.Equal(t, `{"msg":"hello"}`, out["body"])
		headers := out["headers"].(map[string]any)
		assert.Equal(t, "greeting", headers["X-Kind"])
	})

	t.Run("post echoes the body", func(t *testing.T) {
		out, err := h.Call(ctx, map[string]any{
			"url":     server.URL,
			"method":  "post",
			"body":    `{"payload":1}`,
			"headers": map[string]any{"Content-Type": "application/json"},
		})
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, out["status_code"])
		assert.Equal(t, `{"payload":1}`, out["body"])
	})
}

func TestHTTPTool_Spec(t *testing.T) {
	h := NewHTTPTool()
	spec := h.Spec()
	assert.Equal(t, "http_request", spec.Name)
	require.NotNil(t, spec.Schema)
	assert.Equal(t, []string{"url"}, spec.Schema["required"])
}
