package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/connection/repository"
	"github.com/AzielCF/az-connect/integrations/automation"
	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/AzielCF/az-connect/pkg/crypto"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db         *gorm.DB
	conns      *repository.ConnectionGormRepository
	messages   *repository.MessageGormRepository
	workspaces *repository.WorkspaceGormRepository
	broker     *eventbroker.Broker
	provider   *fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
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

	cipher, err := crypto.NewCipher("test-secret")
	require.NoError(t, err)

	broker := eventbroker.New(64)
	t.Cleanup(broker.Close)

	return &testEnv{
		db:         db,
		conns:      repository.NewConnectionGormRepository(db),
		messages:   repository.NewMessageGormRepository(db),
		workspaces: repository.NewWorkspaceGormRepository(db, cipher),
		broker:     broker,
		provider:   newFakeProvider(),
	}
}

// seed inserts a connection directly, bypassing the provider.
func (e *testEnv) seed(t *testing.T, instance, workspace, secret string, status domain.Status) domain.Connection {
	t.Helper()
	at := time.Now().UTC().Add(-time.Minute)
	conn := domain.Connection{
		ID:              "id-" + instance,
		InstanceName:    instance,
		WorkspaceID:     workspace,
		Status:          status,
		HistoryRecovery: domain.HistoryNone,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if status == domain.StatusQR {
		conn.QRCode = "data:image/png;base64,c3RvcmVk"
	}
	require.NoError(t, e.conns.Insert(context.Background(), conn, domain.ChannelSecret{
		InstanceName: instance,
		SecretHash:   crypto.HashSecret(secret),
	}))
	return conn
}

// nextEvent waits for one event on sub or fails.
func nextEvent(t *testing.T, c <-chan eventbroker.Event) eventbroker.Event {
	t.Helper()
	select {
	case evt, ok := <-c:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return eventbroker.Event{}
}

func noEvent(t *testing.T, c <-chan eventbroker.Event) {
	t.Helper()
	select {
	case evt, ok := <-c:
		if ok {
			t.Fatalf("unexpected event %s", evt.Name)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int

	createFn  func(req evolution.CreateInstanceRequest) (evolution.InstanceInfo, error)
	fetchFn   func() ([]evolution.InstanceInfo, error)
	connectFn func(instance string) (evolution.QRCode, error)
	stateFn   func(instance string) (domain.Status, error)
	restartFn func(instance string) error
	logoutFn  func(instance string) error
	deleteFn  func(instance string) error
	webhookFn func(instance, url string, headers map[string]string) error
	textFn    func(instance, number, text string) (evolution.SendResult, error)
	mediaFn   func(instance string, req evolution.SendMediaRequest) (evolution.SendResult, error)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: map[string]int{}}
}

func (f *fakeProvider) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeProvider) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProvider) CreateInstance(_ context.Context, req evolution.CreateInstanceRequest) (evolution.InstanceInfo, error) {
	f.record("create")
	if f.createFn != nil {
		return f.createFn(req)
	}
	return evolution.InstanceInfo{InstanceName: req.InstanceName, State: "close"}, nil
}

func (f *fakeProvider) FetchInstances(context.Context) ([]evolution.InstanceInfo, error) {
	f.record("fetch")
	if f.fetchFn != nil {
		return f.fetchFn()
	}
	return nil, nil
}

func (f *fakeProvider) Connect(_ context.Context, instance string) (evolution.QRCode, error) {
	f.record("connect")
	if f.connectFn != nil {
		return f.connectFn(instance)
	}
	return evolution.QRCode{}, nil
}

func (f *fakeProvider) ConnectionState(_ context.Context, instance string) (domain.Status, error) {
	f.record("state")
	if f.stateFn != nil {
		return f.stateFn(instance)
	}
	return domain.StatusDisconnected, nil
}

func (f *fakeProvider) Restart(_ context.Context, instance string) error {
	f.record("restart")
	if f.restartFn != nil {
		return f.restartFn(instance)
	}
	return nil
}

func (f *fakeProvider) Logout(_ context.Context, instance string) error {
	f.record("logout")
	if f.logoutFn != nil {
		return f.logoutFn(instance)
	}
	return nil
}

func (f *fakeProvider) Delete(_ context.Context, instance string) error {
	f.record("delete")
	if f.deleteFn != nil {
		return f.deleteFn(instance)
	}
	return nil
}

func (f *fakeProvider) SetWebhook(_ context.Context, instance, url string, headers map[string]string, _ bool) error {
	f.record("webhook")
	if f.webhookFn != nil {
		return f.webhookFn(instance, url, headers)
	}
	return nil
}

func (f *fakeProvider) FindProfile(_ context.Context, _ string, number string) (evolution.Profile, error) {
	f.record("profile")
	return evolution.Profile{}, nil
}

func (f *fakeProvider) SendText(_ context.Context, instance, number, text string) (evolution.SendResult, error) {
	f.record("sendText")
	if f.textFn != nil {
		return f.textFn(instance, number, text)
	}
	return evolution.SendResult{ExternalID: "EXT-TEXT"}, nil
}

func (f *fakeProvider) SendMedia(_ context.Context, instance string, req evolution.SendMediaRequest) (evolution.SendResult, error) {
	f.record("sendMedia")
	if f.mediaFn != nil {
		return f.mediaFn(instance, req)
	}
	return evolution.SendResult{ExternalID: "EXT-MEDIA"}, nil
}

type forwardCall struct {
	Event    string
	Instance string
	Raw      []byte
}

type fakeAutomation struct {
	mu       sync.Mutex
	sendErr  error
	sent     []automation.OutboundPayload
	forwards []forwardCall
	done     chan struct{}
}

func newFakeAutomation() *fakeAutomation {
	return &fakeAutomation{done: make(chan struct{}, 16)}
}

func (a *fakeAutomation) Send(_ context.Context, _ domain.Automation, payload automation.OutboundPayload) (automation.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, payload)
	if a.sendErr != nil {
		return automation.Result{}, a.sendErr
	}
	return automation.Result{ExternalID: "EXT-AUTO"}, nil
}

func (a *fakeAutomation) Forward(_ context.Context, _ domain.Automation, event, instance, _ string, raw []byte) error {
	a.mu.Lock()
	a.forwards = append(a.forwards, forwardCall{Event: event, Instance: instance, Raw: raw})
	a.mu.Unlock()
	a.done <- struct{}{}
	return nil
}

func (a *fakeAutomation) Forwards() []forwardCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]forwardCall(nil), a.forwards...)
}
