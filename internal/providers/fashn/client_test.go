package fashn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractErrorMessagePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error object", 400, `{"error":{"name":"BadInput","message":"image too small"},"message":"ignored"}`, "image too small"},
		{"error string", 400, `{"error":"bad category","message":"ignored"}`, "bad category"},
		{"message", 400, `{"message":"quota exceeded"}`, "quota exceeded"},
		{"detail", 422, `{"detail":"num_samples out of range"}`, "num_samples out of range"},
		{"error object without message falls through", 400, `{"error":{"name":"X"},"message":"fallback"}`, "fallback"},
		{"raw body", 502, "  upstream exploded \n", "upstream exploded"},
		{"status text", 503, "", "Service Unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractErrorMessage(tc.status, []byte(tc.body))
			if got != tc.want {
				t.Fatalf("ExtractErrorMessage = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSubmitPayloadAndAuth(t *testing.T) {
	var captured runRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"id":"job-1"}`)
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIKey: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	id, err := client.Submit(context.Background(), RunInputs{
		ModelImage:   "data:image/png;base64,AAAA",
		GarmentImage: "data:image/jpeg;base64,BBBB",
		Category:     "tops",
		Mode:         "balanced",
		NumSamples:   1,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "job-1" {
		t.Fatalf("id = %q", id)
	}
	if captured.ModelName != "tryon-v1.6" {
		t.Fatalf("model_name = %q", captured.ModelName)
	}
	if captured.Inputs.Category != "tops" || captured.Inputs.Mode != "balanced" || captured.Inputs.NumSamples != 1 {
		t.Fatalf("unexpected inputs: %+v", captured.Inputs)
	}
}

func TestSubmitNon2xxReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	_, err := client.Submit(context.Background(), RunInputs{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.Message != "slow down" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !apiErr.Transient() {
		t.Fatal("429 should be transient")
	}
	if apiErr.RetryAfter != 7*time.Second {
		t.Fatalf("RetryAfter = %s", apiErr.RetryAfter)
	}
}

func TestStatusNormalizesErrorAndOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/job-9" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"id":"job-9","status":"FAILED","output":[" ",""],"error":{"name":"PoseError","message":"no person detected"}}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	st, err := client.Status(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Status != "failed" {
		t.Fatalf("status = %q", st.Status)
	}
	if st.Error != "no person detected" {
		t.Fatalf("error = %q", st.Error)
	}
	if len(st.Output) != 0 {
		t.Fatalf("blank outputs should be dropped: %#v", st.Output)
	}
}

func TestStatusMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>`)
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "k", BaseURL: srv.URL})
	if _, err := client.Status(context.Background(), "x"); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestKeySourceResolvedOnceAndCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer from-db" {
			t.Errorf("authorization = %q", got)
		}
		_, _ = io.WriteString(w, `{"id":"j","status":"processing"}`)
	}))
	defer srv.Close()

	client, _ := NewClient(Options{BaseURL: srv.URL, KeySource: func(context.Context) (string, error) {
		calls++
		return " from-db ", nil
	}})
	for i := 0; i < 3; i++ {
		if _, err := client.Status(context.Background(), "j"); err != nil {
			t.Fatalf("Status: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("key source called %d times, want 1", calls)
	}
}

func TestMissingKey(t *testing.T) {
	client, _ := NewClient(Options{KeySource: func(context.Context) (string, error) { return "", nil }})
	if _, err := client.Submit(context.Background(), RunInputs{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("download must not carry credentials")
		}
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	client, _ := NewClient(Options{APIKey: "k"})
	data, mime, err := client.Download(context.Background(), srv.URL+"/out.png")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(data) != 4 || mime != "image/png" {
		t.Fatalf("unexpected download: %d bytes, %q", len(data), mime)
	}
	if _, _, err := client.Download(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404 asset")
	}
	if _, _, err := client.Download(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := parseRetryAfter("3", now); got != 3*time.Second {
		t.Fatalf("seconds form = %s", got)
	}
	if got := parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now); got != 10*time.Second {
		t.Fatalf("date form = %s", got)
	}
	if got := parseRetryAfter("soon", now); got != 0 {
		t.Fatalf("garbage = %s", got)
	}
}
