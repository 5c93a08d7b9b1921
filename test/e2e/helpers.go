//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/as775116191/ragflow/internal/api/handlers"
	"github.com/as775116191/ragflow/internal/graph"
	"github.com/as775116191/ragflow/internal/kbsync"
	"github.com/as775116191/ragflow/internal/repository"
	"github.com/as775116191/ragflow/internal/server"
	"github.com/as775116191/ragflow/internal/service"
	"github.com/as775116191/ragflow/internal/storage"
	"github.com/as775116191/ragflow/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	Auth         *service.AuthService
	Drive        *FakeDrive
	BinaryDir    string
	UserID       string
	AuthToken    string
	HTTPClient   *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     "rustfsadmin",
		SecretAccessKey: "rustfsadmin",
		Bucket:          "test-documents",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	drive := NewFakeDrive()
	authSvc := service.NewAuthService(
		repository.NewUserRepository(pool),
		repository.NewTenantRepository(pool),
		repository.NewAPIKeyRepository(pool),
		&service.DefaultUUIDGenerator{},
	)
	serverURL, serverCloser := startServer(t, pool, s3Client, authSvc, drive, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		Auth:         authSvc,
		Drive:        drive,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Drive != nil {
		e.Drive.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// Bootstrap creates a user with an API key, the way `ragflowd user create`
// and `ragflowd apikey create` do.
func (e *E2ETestEnv) Bootstrap() {
	e.UserID, e.AuthToken = e.NewUser("e2e@example.com")
}

// NewUser creates a user with a personal tenant and returns its ID and token.
func (e *E2ETestEnv) NewUser(email string) (string, string) {
	user, err := e.Auth.CreateUser(e.Ctx, email, "")
	if err != nil {
		e.T.Fatalf("failed to create user: %v", err)
	}
	token, err := e.Auth.CreateAPIKey(e.Ctx, user.ID, "e2e")
	if err != nil {
		e.T.Fatalf("failed to create API key: %v", err)
	}
	return user.ID, token
}

// BuildBinaries builds the ragflow CLI
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "ragflow-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "ragflow"), "./cmd/ragflow")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build ragflow: %v\n%s", err, out)
	}
}

// RunCLI runs the ragflow CLI against the test server
func (e *E2ETestEnv) RunCLI(workDir string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "ragflow"), args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("RAGFLOW_API_KEY=%s", e.AuthToken),
		fmt.Sprintf("RAGFLOW_API_URL=%s", e.ServerURL),
		fmt.Sprintf("HOME=%s", workDir),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, authToken)
}

func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, authToken)
}

func (e *E2ETestEnv) Put(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodPut, path, body, authToken)
}

func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, authToken)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.send(req, authToken)
}

// Upload posts content as a multipart document upload.
func (e *E2ETestEnv) Upload(kbID, filename string, content []byte, authToken string) (*APIResponse, error) {
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, e.ServerURL+"/kbs/"+kbID+"/documents", &form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.send(req, authToken)
}

func (e *E2ETestEnv) send(req *http.Request, authToken string) (*APIResponse, error) {
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := &APIResponse{StatusCode: resp.StatusCode}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, apiResp); err != nil {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
	}
	if resp.StatusCode >= 400 {
		return apiResp, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}
	return apiResp, nil
}

// DownloadFile downloads a file from the presigned URL
func (e *E2ETestEnv) DownloadFile(downloadURL string) ([]byte, error) {
	resp, err := e.HTTPClient.Get(downloadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// FakeDrive serves a single-account Graph drive delta feed.
type FakeDrive struct {
	srv   *httptest.Server
	mu    sync.Mutex
	files map[string]fakeFile
	order []string
}

type fakeFile struct {
	name    string
	content []byte
}

func NewFakeDrive() *FakeDrive {
	d := &FakeDrive{files: make(map[string]fakeFile)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0/users/{account}/drive/root/delta", d.delta)
	mux.HandleFunc("/v1.0/users/{account}/drive/items/{id}/content", d.content)
	d.srv = httptest.NewServer(mux)
	return d
}

func (d *FakeDrive) Client() *graph.Client {
	return graph.NewClientWithHTTP(d.srv.URL+"/v1.0", d.srv.Client())
}

func (d *FakeDrive) Put(id, name string, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.files[id]; !ok {
		d.order = append(d.order, id)
	}
	d.files[id] = fakeFile{name: name, content: content}
}

func (d *FakeDrive) Close() { d.srv.Close() }

func (d *FakeDrive) delta(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]map[string]interface{}, 0, len(d.order))
	for _, id := range d.order {
		f := d.files[id]
		items = append(items, map[string]interface{}{
			"id":                   id,
			"name":                 f.name,
			"size":                 len(f.content),
			"file":                 map[string]string{"mimeType": "text/plain"},
			"lastModifiedDateTime": "2026-01-02T03:04:05Z",
			"parentReference":      map[string]string{"id": "root", "path": "/drive/root:"},
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"value":            items,
		"@odata.deltaLink": d.srv.URL + r.URL.Path + "?token=done",
	})
}

func (d *FakeDrive) content(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	f, ok := d.files[r.PathValue("id")]
	d.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(f.content)
}

// startServer wires the server the way `ragflowd serve` does, with the drive
// source pointed at the fake.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, authSvc *service.AuthService, drive *FakeDrive, port int) (string, func()) {
	kbRepo := repository.NewKnowledgeBaseRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewDocumentChunkRepository(pool)
	jobRepo := repository.NewIngestionJobRepository(pool)

	docs := service.NewDocumentService(docRepo, chunkRepo, jobRepo, s3Client, repository.NewTxRunner(pool))

	syncCfg := kbsync.DefaultConfig()
	reconciler := kbsync.NewReconciler(docs, s3Client, docs, kbsync.ReconcilerConfig{
		Policy:       kbsync.NewContentPolicy(nil),
		Retry:        syncCfg.Retry,
		FetchTimeout: syncCfg.FetchTimeout,
	})
	orch := kbsync.NewOrchestrator(kbRepo, repository.NewSyncCursorRepository(pool), graph.NewSources(drive.Client()), reconciler, syncCfg)
	docs.SetSyncGuard(orch)
	kbs := service.NewKnowledgeBaseService(kbRepo, docs, orch)

	router := server.NewRouter(server.RouterConfig{
		Auth:                 authSvc,
		KnowledgeBaseHandler: handlers.NewKnowledgeBaseHandler(kbs),
		DocumentHandler:      handlers.NewDocumentHandler(kbs, docs),
		SyncHandler:          handlers.NewSyncHandler(kbs, orch, 5*time.Second),
		AuthHandler:          handlers.NewAuthHandler(authSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		orch.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
