package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atlasview/layerd/internal/reliability"
	"github.com/atlasview/layerd/pkg/logger"
)

func TestComputeParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if got := r.URL.Path; got != "/api/v1/compute/temperature" {
			t.Errorf("path = %q", got)
		}
		if ua := r.Header.Get("User-Agent"); ua != "layerd-test/1.0" {
			t.Errorf("user agent = %q", ua)
		}
		w.Write([]byte(`{"data":{"cells":[1,2]},"metadata":{"dataSource":"real"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "layerd-test/1.0", logger.NewNoOp())

	p, err := c.Compute(context.Background(), "temperature", map[string]any{"year": 2050})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if p.Metadata.DataSource != "real" {
		t.Fatalf("data source = %q, want real", p.Metadata.DataSource)
	}
	if string(p.Data) != `{"cells":[1,2]}` {
		t.Fatalf("data = %s", p.Data)
	}
}

func TestComputeMapsStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"validation error", http.StatusBadRequest, false},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "layerd-test/1.0", logger.NewNoOp())

			_, err := c.Compute(context.Background(), "temperature", nil)
			var ue *reliability.UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("expected UpstreamError, got %v", err)
			}
			if ue.Status != tt.status {
				t.Fatalf("status = %d, want %d", ue.Status, tt.status)
			}
			if got := reliability.IsTransient(err); got != tt.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tt.transient)
			}
		})
	}
}

func TestComputeMalformedPayloadIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": truncated`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "layerd-test/1.0", logger.NewNoOp())

	_, err := c.Compute(context.Background(), "temperature", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !reliability.IsTransient(err) {
		t.Fatalf("malformed payload should be transient, got %v", err)
	}
}

func TestComputeConnectionErrorIsTransient(t *testing.T) {
	// Nothing listens here.
	c := NewHTTPClient("http://127.0.0.1:1", "layerd-test/1.0", logger.NewNoOp())

	_, err := c.Compute(context.Background(), "temperature", nil)
	var ne *reliability.TransientNetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected TransientNetworkError, got %v", err)
	}
}
