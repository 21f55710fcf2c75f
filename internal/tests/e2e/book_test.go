//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/exambook/apiserver/config"
	"github.com/exambook/apiserver/internal/db"
	"github.com/exambook/apiserver/internal/server"
)

const (
	serverPort    = 18080
	postgresImage = "postgres:16-alpine"
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, dbCfg, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	if err := db.MigrateUp(db.DSN(dbCfg)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}

	srv, err := startServer(ctx, dbCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		_ = container.Terminate(context.Background())
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	_ = container.Terminate(context.Background())
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, config.DatabaseConfig, error) {
	req := testcontainers.ContainerRequest{
		Image:        postgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "exambook",
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "exambook_db",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, config.DatabaseConfig{}, err
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, config.DatabaseConfig{}, err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, config.DatabaseConfig{}, err
	}

	return container, config.DatabaseConfig{
		Backend:  "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "exambook",
		Password: "password",
		DBName:   "exambook_db",
	}, nil
}

func startServer(ctx context.Context, dbCfg config.DatabaseConfig) (*server.Server, error) {
	cfg := config.Config{
		Env:        "test",
		ServerPort: serverPort,
		Database:   dbCfg,
		Auth: config.AuthConfig{
			AccessSecret:  "e2e-access",
			RefreshSecret: "e2e-refresh",
			ResetSecret:   "e2e-reset",
		},
		Media: config.MediaConfig{Backend: "memory"},
		Mail:  config.MailConfig{Transport: "smtp", SMTPHost: "localhost", SMTPPort: 2525},
	}

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		}
	}()
	return srv, nil
}

func waitForHealth(ctx context.Context, url string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func TestBookLifecycle(t *testing.T) {
	stamp := time.Now().UnixNano()
	seller := register(t, "Seller", fmt.Sprintf("seller_%d@example.com", stamp))
	other := register(t, "Other", fmt.Sprintf("other_%d@example.com", stamp))

	near := createBook(t, seller, map[string]string{
		"title": "Concepts of Physics", "author": "HC Verma", "price": "350",
		"latitude": "28.6139", "longitude": "77.2090",
	})
	far := createBook(t, seller, map[string]string{
		"title": "Physics Galaxy", "author": "Ashish Arora", "price": "420",
		"latitude": "19.0760", "longitude": "72.8777",
	})
	createBook(t, seller, map[string]string{"title": "Physics MCQ", "author": "Anon", "price": "150"})

	var listing struct {
		Total int `json:"total"`
		Books []struct {
			ID           string   `json:"id"`
			DistanceInKm *float64 `json:"distanceInKm"`
			Seller       struct {
				Email string `json:"email"`
			} `json:"seller"`
		} `json:"books"`
	}
	status := getJSON(t, "/api/books/books?search=physics&latitude=28.62&longitude=77.21&limit=50", &listing)
	if status != http.StatusOK {
		t.Fatalf("proximity listing: %d", status)
	}
	if listing.Total < 2 || listing.Books[0].ID != near {
		t.Fatalf("expected nearest listing first, got %+v", listing)
	}
	for i := 1; i < len(listing.Books); i++ {
		if *listing.Books[i].DistanceInKm < *listing.Books[i-1].DistanceInKm {
			t.Fatalf("distances not ascending: %+v", listing.Books)
		}
	}
	if listing.Books[0].Seller.Email != "" {
		t.Fatalf("proximity results must not carry seller email")
	}

	var nearby struct {
		Total int `json:"total"`
		Books []struct {
			ID string `json:"id"`
		} `json:"books"`
	}
	if status := getJSON(t, "/api/books/nearby?lat=28.6139&lng=77.2090&distance=5", &nearby); status != http.StatusOK {
		t.Fatalf("nearby: %d", status)
	}
	for _, b := range nearby.Books {
		if b.ID == far {
			t.Fatalf("far listing returned within 5km")
		}
	}

	body, _ := json.Marshal(map[string]string{"price": "1"})
	resp := do(t, http.MethodPut, "/api/books/books/"+near, "application/json", bytes.NewReader(body), other.token)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner update, got %d", resp.StatusCode)
	}

	resp = do(t, http.MethodDelete, "/api/books/books/"+near, "", nil, seller.token)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, "/api/books/books/"+near, "", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected deleted book to be missing, got %d", resp.StatusCode)
	}
}

func TestDuplicateEmailIsCaseInsensitive(t *testing.T) {
	email := fmt.Sprintf("dup_%d@example.com", time.Now().UnixNano())
	register(t, "First", email)

	payload, _ := json.Marshal(map[string]string{
		"name": "Second", "email": "DUP" + email[3:], "phone": "9876543210", "password": "password123",
	})
	resp := do(t, http.MethodPost, "/api/user/register", "application/json", bytes.NewReader(payload), "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

type session struct {
	id    string
	token string
}

func register(t *testing.T, name, email string) session {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"name": name, "email": email, "phone": "9876543210", "password": "password123",
	})
	resp := do(t, http.MethodPost, "/api/user/register", "application/json", bytes.NewReader(payload), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: %d", email, resp.StatusCode)
	}
	var out struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	decode(t, resp, &out)

	for _, c := range resp.Cookies() {
		if c.Name == "accessToken" {
			return session{id: out.User.ID, token: c.Value}
		}
	}
	t.Fatalf("register %s: no access cookie", email)
	return session{}
}

func createBook(t *testing.T, seller session, fields map[string]string) string {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("image", "cover.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if err := png.Encode(part, image.NewNRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	_ = w.Close()

	resp := do(t, http.MethodPost, "/api/books/book", w.FormDataContentType(), &buf, seller.token)
	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("create book: %d %s", resp.StatusCode, data)
	}
	var out struct {
		Book struct {
			ID string `json:"id"`
		} `json:"book"`
	}
	decode(t, resp, &out)
	return out.Book.ID
}

func getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp := do(t, http.MethodGet, path, "", nil, "")
	decode(t, resp, out)
	return resp.StatusCode
}

func do(t *testing.T, method, path, contentType string, body io.Reader, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", resp.Request.URL.Path, err)
	}
}
