package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/auth"
	"github.com/example/lesion-intake/internal/handlers"
	"github.com/example/lesion-intake/internal/intake"
	"github.com/example/lesion-intake/internal/repository"
	"github.com/example/lesion-intake/internal/validator"
)

// blockingService holds History open until release is closed so a request
// can be in flight when the shutdown signal arrives.
type blockingService struct {
	started chan struct{}
	release chan struct{}
	owner   string
}

func (s *blockingService) Process(ctx context.Context, raw validator.RawUpload, ownerID, localizationTag string) (*repository.UploadRecord, error) {
	return nil, errors.New("not used")
}

func (s *blockingService) History(ctx context.Context, ownerID string) ([]*repository.UploadRecord, error) {
	s.owner = ownerID
	close(s.started)
	<-s.release
	return []*repository.UploadRecord{{RecordID: "rec-1", OwnerID: ownerID, Verdict: "benign"}}, nil
}

func (s *blockingService) Record(ctx context.Context, ownerID, recordID string) (*repository.UploadRecord, error) {
	return nil, intake.ErrRecordNotFound
}

func (s *blockingService) ByFingerprint(ctx context.Context, ownerID, fp string) ([]*repository.UploadRecord, error) {
	return nil, nil
}

func (s *blockingService) Duplicates(ctx context.Context, ownerID, recordID string) (*intake.DuplicateReport, error) {
	return nil, intake.ErrRecordNotFound
}

func (s *blockingService) Summary(ctx context.Context, ownerID string) (*intake.Summary, error) {
	return &intake.Summary{}, nil
}

func TestServerGracefulShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	const secret = "shutdown-secret"

	svc := &blockingService{started: make(chan struct{}), release: make(chan struct{})}
	released := false
	defer func() {
		if !released {
			close(svc.release)
		}
	}()

	router := gin.New()
	router.Use(handlers.RequestLogger(nil, logger))
	handlers.RegisterRoutes(router, handlers.New(svc, nil, 0, logger), auth.JWTMiddleware(secret, ""))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/uploads", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-svc.started:
	case err := <-errCh:
		t.Fatalf("request failed before reaching the service: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(svc.release)
	released = true

	select {
	case resp := <-respCh:
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, body)
		}
		if !strings.Contains(string(body), `"record_id":"rec-1"`) {
			t.Fatalf("in-flight response was not completed: %s", body)
		}
		if resp.Header.Get(handlers.RequestIDHeader) == "" {
			t.Fatal("expected request id header")
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}
	if svc.owner != "user-42" {
		t.Fatalf("expected token subject as owner, got %q", svc.owner)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func TestServerServesHealthAndStopsOnSignal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	router := gin.New()
	router.Use(handlers.RequestLogger(nil, logger))
	handlers.RegisterRoutes(router, handlers.New(nil, nil, 0, logger), auth.JWTMiddleware("secret", ""))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != `{"status":"ok"}` {
		t.Fatalf("unexpected health response %d %s", resp.StatusCode, body)
	}
	if resp.Header.Get(handlers.RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}

	resp, err = client.Get("http://" + addr + "/uploads")
	if err != nil {
		t.Fatalf("uploads request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	signalCh <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
