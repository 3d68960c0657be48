package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name       string
		server     string
		wantPrefix string
	}{
		{"with http prefix", "http://localhost:5080", "http://localhost:5080"},
		{"with https prefix", "https://localhost:5080", "https://localhost:5080"},
		{"without prefix", "localhost:5080", "http://localhost:5080"},
		{"trailing slash", "http://ota.example.com/", "http://ota.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient(tt.server, 0)
			if client.BaseURL() != tt.wantPrefix {
				t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), tt.wantPrefix)
			}
		})
	}
}

func writeEnvelope(w http.ResponseWriter, status int, code string, data any) {
	w.Header().Set("Content-Type", "application/json")
	if status >= 400 {
		w.Header().Set("X-Error-Code", code)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":       code,
		"message":    "msg " + code,
		"request_id": "req-1",
		"data":       data,
	})
}

func TestHTTPClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "otamesh-cli/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path != "/admin/v1/releases" || r.URL.Query().Get("status") != "active" {
			t.Errorf("url = %q", r.URL.String())
		}
		writeEnvelope(w, http.StatusOK, "OK", map[string]any{"total": 2})
	}))
	defer server.Close()

	var out struct {
		Total int `json:"total"`
	}
	client := NewHTTPClient(server.URL, 0)
	err := client.Get(context.Background(), "/admin/v1/releases", url.Values{"status": {"active"}}, &out)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if out.Total != 2 {
		t.Errorf("Total = %d, want 2", out.Total)
	}
}

func TestHTTPClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		writeEnvelope(w, http.StatusCreated, "OK", body)
	}))
	defer server.Close()

	var out map[string]any
	client := NewHTTPClient(server.URL, 0)
	if err := client.Post(context.Background(), "/admin/v1/dimensions", map[string]any{"key": "region"}, &out); err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if out["key"] != "region" {
		t.Errorf("echoed body = %v", out)
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, "OM-REL-4090", nil)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0)
	err := client.Post(context.Background(), "/admin/v1/releases/r1/resume", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.RequestID != "req-1" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !IsCode(err, "OM-REL-4090") || IsCode(err, "OM-SYS-4040") {
		t.Error("IsCode() mismatch")
	}
	if !strings.Contains(err.Error(), "(request req-1)") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		header   string
		body     string
		wantErr  bool
		wantCode string
	}{
		{"no content", http.StatusNoContent, "", "", false, ""},
		{"plain text error", http.StatusBadGateway, "OM-SYS-5020", "bad gateway", true, "OM-SYS-5020"},
		{"malformed success", http.StatusOK, "", "not json", true, ""},
		{"empty data", http.StatusOK, "", `{"code":"OK"}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{
				StatusCode: tt.status,
				Header:     http.Header{},
				Body:       io.NopCloser(bytes.NewBufferString(tt.body)),
			}
			if tt.header != "" {
				resp.Header.Set("X-Error-Code", tt.header)
			}
			var out map[string]any
			err := ParseResponse(resp, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantCode != "" && !IsCode(err, tt.wantCode) {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
			if out != nil {
				t.Errorf("target = %v, want untouched", out)
			}
		})
	}
}

func TestHTTPClient_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/admin/v1/backup" {
			w.Header().Set("Content-Type", "application/zstd")
			w.Write([]byte("backup-bytes"))
			return
		}
		writeEnvelope(w, http.StatusServiceUnavailable, "OM-SYS-5030", nil)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 0)
	var buf bytes.Buffer
	n, err := client.Download(context.Background(), "/admin/v1/backup", &buf)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != int64(len("backup-bytes")) || buf.String() != "backup-bytes" {
		t.Errorf("Download() = %d %q", n, buf.String())
	}

	if _, err := client.Download(context.Background(), "/other", io.Discard); !IsCode(err, "OM-SYS-5030") {
		t.Errorf("Download() error = %v, want OM-SYS-5030", err)
	}
}
