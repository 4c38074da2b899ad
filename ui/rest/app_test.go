package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/connection/repository"
	"github.com/AzielCF/az-connect/integrations/automation"
	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/AzielCF/az-connect/pkg/crypto"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/pkg/msgworker"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeEvolution is a small stateful stand-in for the Evolution API.
type fakeEvolution struct {
	mu        sync.Mutex
	instances map[string]string
	secrets   map[string]string
}

func newFakeEvolution() *fakeEvolution {
	return &fakeEvolution{instances: map[string]string{}, secrets: map[string]string{}}
}

func (f *fakeEvolution) setState(instance, state string) {
	f.mu.Lock()
	f.instances[instance] = state
	f.mu.Unlock()
}

func (f *fakeEvolution) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	name := parts[len(parts)-1]
	notFound := func() {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"error":"Not Found","response":{"message":["The ` + name + ` instance does not exist"]}}`))
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/instance/create":
		var body struct {
			InstanceName string `json:"instanceName"`
			Webhook      struct {
				Headers map[string]string `json:"headers"`
			} `json:"webhook"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		f.instances[body.InstanceName] = "close"
		f.secrets[body.InstanceName] = body.Webhook.Headers[application.SecretHeader]
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"` + body.InstanceName + `","status":"created"},"qrcode":{"base64":"data:image/png;base64,UVI=","code":"2@qr"}}`))
	case r.URL.Path == "/instance/fetchInstances":
		_, _ = w.Write([]byte(`[]`))
	case strings.HasPrefix(r.URL.Path, "/instance/connectionState/"):
		state, ok := f.instances[name]
		if !ok {
			notFound()
			return
		}
		_, _ = w.Write([]byte(`{"instance":{"instanceName":"` + name + `","state":"` + state + `"}}`))
	case strings.HasPrefix(r.URL.Path, "/instance/connect/"):
		if _, ok := f.instances[name]; !ok {
			notFound()
			return
		}
		_, _ = w.Write([]byte(`{"base64":"data:image/png;base64,UVI=","code":"2@qr"}`))
	case strings.HasPrefix(r.URL.Path, "/instance/logout/"):
		if _, ok := f.instances[name]; !ok {
			notFound()
			return
		}
		f.instances[name] = "close"
		_, _ = w.Write([]byte(`{"status":"SUCCESS"}`))
	case strings.HasPrefix(r.URL.Path, "/instance/delete/"):
		if _, ok := f.instances[name]; !ok {
			notFound()
			return
		}
		delete(f.instances, name)
		_, _ = w.Write([]byte(`{"status":"SUCCESS"}`))
	case strings.HasPrefix(r.URL.Path, "/message/sendText/"):
		_, _ = w.Write([]byte(`{"key":{"remoteJid":"5511988887777@s.whatsapp.net","fromMe":true,"id":"BAE5EXT"},"status":"PENDING"}`))
	default:
		notFound()
	}
}

type testServer struct {
	app    *fiber.App
	evo    *fakeEvolution
	broker *eventbroker.Broker
	conns  *repository.ConnectionGormRepository
	msgs   *repository.MessageGormRepository
	pool   *msgworker.Pool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))

	cipher, err := crypto.NewCipher("rest-test")
	require.NoError(t, err)

	evo := newFakeEvolution()
	evoSrv := httptest.NewServer(evo)
	t.Cleanup(evoSrv.Close)
	provider := evolution.NewClient(evolution.Config{BaseURL: evoSrv.URL, APIKey: "global-key"})

	ctx, cancel := context.WithCancel(context.Background())
	broker := eventbroker.New(32)
	pool := msgworker.NewPool(2, 16)
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Stop()
		broker.Close()
	})

	conns := repository.NewConnectionGormRepository(db)
	msgs := repository.NewMessageGormRepository(db)
	workspaces := repository.NewWorkspaceGormRepository(db, cipher)
	auto := automation.NewClient(2 * time.Second)

	svc := Services{
		Lifecycle: application.NewLifecycleService(conns, provider, broker, application.LifecycleConfig{
			WebhookURL: "https://connect.example.com/webhook/evolution",
		}),
		Receiver: application.NewReceiver(conns, msgs, workspaces, repository.NewMemoryDedupStore(time.Hour), broker, auto, pool),
		Reconciler: application.NewReconciler(conns, provider, broker, application.ReconcilerConfig{
			PollInterval:       20 * time.Millisecond,
			QRFallbackTimeout:  time.Second,
			QRFallbackInterval: time.Second,
		}),
		Router:     application.NewRouter(conns, msgs, workspaces, provider, auto),
		Conns:      conns,
		Workspaces: workspaces,
		Pool:       pool,
		Checks: map[string]Check{
			"database": func(ctx context.Context) error { return sqlDB.PingContext(ctx) },
		},
		Started: time.Now(),
		Base:    ctx,
	}

	app := fiber.New()
	app.Use(middleware.Recovery())
	RegisterPublic(app, svc)
	RegisterAPI(app.Group("/api"), svc)

	return &testServer{app: app, evo: evo, broker: broker, conns: conns, msgs: msgs, pool: pool}
}

type response struct {
	Status int
	Body   map[string]any
	Raw    string
}

func (s *testServer) call(t *testing.T, method, path, body string, headers map[string]string) response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := response{Status: resp.StatusCode, Raw: string(raw)}
	_ = json.Unmarshal(raw, &out.Body)
	return out
}

func asWorkspace(ws string) map[string]string {
	return map[string]string{middleware.HeaderWorkspaceID: ws, middleware.HeaderUserID: "user-1"}
}

// results digs into the ResponseData envelope.
func results(t *testing.T, r response) map[string]any {
	t.Helper()
	res, ok := r.Body["results"].(map[string]any)
	require.True(t, ok, "results missing in %s", r.Raw)
	return res
}

func httptestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}
