package application

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/integrations/evolution"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastReconciler(env *testEnv) *Reconciler {
	return NewReconciler(env.conns, env.provider, env.broker, ReconcilerConfig{
		PollInterval:       20 * time.Millisecond,
		QRFallbackTimeout:  30 * time.Millisecond,
		QRFallbackInterval: 40 * time.Millisecond,
	})
}

// drain collects events until the session closes.
func drain(t *testing.T, s *ReconcileSession) []eventbroker.Event {
	t.Helper()
	var out []eventbroker.Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-s.Events:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-deadline:
			t.Fatal("session did not close")
		}
	}
}

func names(events []eventbroker.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Name
	}
	return out
}

func TestReconciler_InitialQRThenConnected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusCreating)

	env.provider.connectFn = func(string) (evolution.QRCode, error) {
		return evolution.QRCode{Base64: "cXI="}, nil
	}
	var polls int32
	env.provider.stateFn = func(string) (domain.Status, error) {
		if atomic.AddInt32(&polls, 1) >= 2 {
			return domain.StatusConnected, nil
		}
		return domain.StatusConnecting, nil
	}

	session := fastReconciler(env).Attach(context.Background(), "acme-1")
	defer session.Detach()

	events := drain(t, session)
	require.NotEmpty(t, events)
	assert.Equal(t, eventbroker.EventQRCode, events[0].Name)
	assert.Equal(t, eventbroker.EventSuccess, events[len(events)-1].Name)
	assert.Contains(t, names(events), eventbroker.EventState)

	found, err := env.conns.FindByInstance(context.Background(), "acme-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, found.Status)
	assert.Empty(t, found.QRCode)

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

func TestReconciler_SuccessReachesSlowObserver(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusConnecting)

	var connected atomic.Bool
	var polls atomic.Int32
	env.provider.stateFn = func(string) (domain.Status, error) {
		// Enough state events to overflow the session buffer several times.
		if polls.Add(1) > 3*sessionBuffer {
			connected.Store(true)
			return domain.StatusConnected, nil
		}
		return domain.StatusConnecting, nil
	}

	r := NewReconciler(env.conns, env.provider, nil, ReconcilerConfig{
		PollInterval:       time.Millisecond,
		QRFallbackTimeout:  time.Hour,
		QRFallbackInterval: time.Hour,
	})
	session := r.Attach(context.Background(), "acme-1")
	defer session.Detach()

	// Nobody reads until the instance has connected.
	require.Eventually(t, connected.Load, 3*time.Second, 5*time.Millisecond)
	<-session.Done()

	events := drain(t, session)
	require.NotEmpty(t, events)
	assert.LessOrEqual(t, len(events), sessionBuffer)
	assert.Equal(t, eventbroker.EventSuccess, events[len(events)-1].Name)
}

func TestReconciler_FallbackPollFiresWithoutQR(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusCreating)
	// never any QR, never connected
	env.provider.stateFn = func(string) (domain.Status, error) { return domain.StatusConnecting, nil }

	session := fastReconciler(env).Attach(context.Background(), "acme-1")
	defer session.Detach()

	assert.Eventually(t, func() bool {
		// initial + fallback start + at least one interval tick
		return env.provider.Calls("connect") >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconciler_NoFallbackWhenQRArrived(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusQR)
	env.provider.connectFn = func(string) (evolution.QRCode, error) {
		return evolution.QRCode{Code: "2@code"}, nil
	}
	env.provider.stateFn = func(string) (domain.Status, error) { return domain.StatusConnecting, nil }

	r := NewReconciler(env.conns, env.provider, env.broker, ReconcilerConfig{
		PollInterval:       time.Hour,
		QRFallbackTimeout:  20 * time.Millisecond,
		QRFallbackInterval: time.Hour,
	})
	session := r.Attach(context.Background(), "acme-1")
	defer session.Detach()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, env.provider.Calls("connect"))
}

func TestReconciler_NotFoundIsDisconnected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusQR)
	env.provider.stateFn = func(string) (domain.Status, error) {
		return "", pkgError.NotFoundError("instance not found")
	}

	session := fastReconciler(env).Attach(context.Background(), "acme-1")
	defer session.Detach()

	evt := nextEvent(t, session.Events)
	for evt.Name != eventbroker.EventState {
		evt = nextEvent(t, session.Events)
	}
	assert.Equal(t, domain.StatusDisconnected, evt.Data.(StatePayload).Status)

	found, err := env.conns.FindByInstance(context.Background(), "acme-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisconnected, found.Status)
}

func TestReconciler_ProviderUnavailableIsRetried(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusQR)
	env.provider.stateFn = func(string) (domain.Status, error) {
		return "", pkgError.ProviderUnavailableError("down")
	}

	session := fastReconciler(env).Attach(context.Background(), "acme-1")
	defer session.Detach()

	assert.Eventually(t, func() bool { return env.provider.Calls("state") >= 3 }, 2*time.Second, 10*time.Millisecond)
	select {
	case <-session.Done():
		t.Fatal("session must survive provider outages")
	default:
	}
}

func TestReconciler_RelaysBrokerEvents(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusQR)

	r := NewReconciler(env.conns, env.provider, env.broker, ReconcilerConfig{PollInterval: time.Hour, QRFallbackTimeout: time.Hour})
	session := r.Attach(context.Background(), "acme-1")
	defer session.Detach()

	require.Eventually(t, func() bool { return env.broker.SubscriberCount("acme-1") == 1 }, time.Second, 5*time.Millisecond)
	env.broker.Broadcast("acme-1", eventbroker.EventQRCode, QRPayload{QRCode: "x"})
	env.broker.Broadcast("acme-1", eventbroker.EventState, StatePayload{Status: domain.StatusConnected})

	events := drain(t, session)
	assert.Equal(t, []string{eventbroker.EventQRCode, eventbroker.EventState, eventbroker.EventSuccess}, names(events))
	assert.Zero(t, env.broker.SubscriberCount("acme-1"), "session unsubscribes on exit")
}

func TestReconciler_DetachStopsImmediately(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acme-1", "ws-a", "s1", domain.StatusQR)

	session := fastReconciler(env).Attach(context.Background(), "acme-1")
	session.Detach()
	session.Detach()

	select {
	case <-session.Done():
	case <-time.After(time.Second):
		t.Fatal("detach did not stop the session")
	}
	calls := env.provider.Calls("state")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, env.provider.Calls("state"))
}

func TestEventStatus(t *testing.T) {
	assert.Equal(t, domain.StatusConnected, eventStatus(StatePayload{Status: domain.StatusConnected}))
	assert.Equal(t, domain.StatusQR, eventStatus(json.RawMessage(`{"status":"qr"}`)))
	assert.Equal(t, domain.StatusConnecting, eventStatus(map[string]any{"status": "connecting"}))
}
