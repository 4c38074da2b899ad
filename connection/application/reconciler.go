package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultQRFallbackTimeout  = 3 * time.Second
	DefaultQRFallbackInterval = 20 * time.Second

	sessionBuffer = 32
)

type ReconcilerConfig struct {
	PollInterval       time.Duration
	QRFallbackTimeout  time.Duration
	QRFallbackInterval time.Duration
}

// Reconciler keeps a watched connection in sync with the provider while a
// client observes it. There is no overall deadline; a session lives until
// the instance connects or the observer detaches.
type Reconciler struct {
	conns    domain.ConnectionRepository
	provider Provider
	sub      Subscriber
	cfg      ReconcilerConfig
	now      func() time.Time
}

func NewReconciler(conns domain.ConnectionRepository, provider Provider, sub Subscriber, cfg ReconcilerConfig) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QRFallbackTimeout <= 0 {
		cfg.QRFallbackTimeout = DefaultQRFallbackTimeout
	}
	if cfg.QRFallbackInterval <= 0 {
		cfg.QRFallbackInterval = DefaultQRFallbackInterval
	}
	return &Reconciler{
		conns:    conns,
		provider: provider,
		sub:      sub,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileSession streams events for one observer. Events is closed when
// the session ends.
type ReconcileSession struct {
	Events <-chan eventbroker.Event

	instance string
	out      chan eventbroker.Event
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	lastQRAt time.Time
}

func (s *ReconcileSession) Done() <-chan struct{} {
	return s.done
}

// Detach cancels the session's timers. In-flight provider calls are not awaited.
func (s *ReconcileSession) Detach() {
	s.once.Do(s.cancel)
}

func (s *ReconcileSession) Instance() string {
	return s.instance
}

func (s *ReconcileSession) emit(name string, data any) {
	select {
	case s.out <- eventbroker.Event{Instance: s.instance, Name: name, Data: data, At: time.Now().UTC()}:
	default:
		logrus.Debugf("[RECONCILER] session for %s is full, dropping %s", s.instance, name)
	}
}

// emitFinal delivers the terminal event of a session. A slow observer must
// still see it, so the oldest buffered events are evicted to make room.
// run is the only sender, so the retry always succeeds once space is freed.
func (s *ReconcileSession) emitFinal(name string, data any) {
	evt := eventbroker.Event{Instance: s.instance, Name: name, Data: data, At: time.Now().UTC()}
	for {
		select {
		case s.out <- evt:
			return
		default:
		}
		select {
		case old := <-s.out:
			logrus.Debugf("[RECONCILER] session for %s is full, evicting %s for %s", s.instance, old.Name, name)
		default:
		}
	}
}

func (s *ReconcileSession) markQR(at time.Time) {
	s.mu.Lock()
	s.lastQRAt = at
	s.mu.Unlock()
}

func (s *ReconcileSession) qrSince(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastQRAt.IsZero() && !s.lastQRAt.Before(at)
}

// Attach starts a session for instance. The caller must Detach it.
func (r *Reconciler) Attach(ctx context.Context, instance string) *ReconcileSession {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan eventbroker.Event, sessionBuffer)
	session := &ReconcileSession{
		Events:   out,
		instance: instance,
		out:      out,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	var sub *eventbroker.Subscription
	if r.sub != nil {
		sub = r.sub.Subscribe(instance)
	}

	go r.run(ctx, session, sub)
	return session
}

func (r *Reconciler) run(ctx context.Context, s *ReconcileSession, sub *eventbroker.Subscription) {
	defer func() {
		if sub != nil {
			r.sub.Unsubscribe(sub)
		}
		s.Detach()
		close(s.out)
		close(s.done)
	}()

	logrus.Debugf("[RECONCILER] session attached for %s", s.instance)
	started := r.now()

	if r.requestQR(ctx, s) {
		return
	}

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()

	fallbackTimer := time.NewTimer(r.cfg.QRFallbackTimeout)
	defer fallbackTimer.Stop()

	var fallback *time.Ticker
	var fallbackC <-chan time.Time
	defer func() {
		if fallback != nil {
			fallback.Stop()
		}
	}()

	var events <-chan eventbroker.Event
	if sub != nil {
		events = sub.C
	}

	for {
		select {
		case <-ctx.Done():
			logrus.Debugf("[RECONCILER] session detached for %s", s.instance)
			return

		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if evt.Name == eventbroker.EventQRCode {
				s.markQR(r.now())
			}
			s.emit(evt.Name, evt.Data)
			if evt.Name == eventbroker.EventState && eventStatus(evt.Data) == domain.StatusConnected {
				s.emitFinal(eventbroker.EventSuccess, StatePayload{Status: domain.StatusConnected, Source: "broadcast"})
				return
			}

		case <-poll.C:
			if r.poll(ctx, s) {
				return
			}

		case <-fallbackTimer.C:
			if s.qrSince(started) {
				continue
			}
			logrus.Infof("[RECONCILER] no QR for %s after %s, starting fallback poll", s.instance, r.cfg.QRFallbackTimeout)
			if r.requestQR(ctx, s) {
				return
			}
			fallback = time.NewTicker(r.cfg.QRFallbackInterval)
			fallbackC = fallback.C

		case <-fallbackC:
			if s.qrSince(r.now().Add(-r.cfg.QRFallbackInterval)) {
				continue
			}
			if r.requestQR(ctx, s) {
				return
			}
		}
	}
}

// requestQR asks the provider for a fresh QR. It reports true when the
// session should end because the instance is already connected.
func (r *Reconciler) requestQR(ctx context.Context, s *ReconcileSession) bool {
	q, err := r.provider.Connect(ctx, s.instance)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		logrus.WithError(err).Warnf("[RECONCILER] connect failed for %s", s.instance)
		return false
	}
	if q.Empty() {
		// No QR usually means the instance is already paired; the next poll settles it.
		return false
	}
	payload := qrPayload(q)
	at := r.now()
	if _, err := r.conns.SetQRCode(ctx, s.instance, domain.QRUpdate{QRCode: payload.QRCode, PairingCode: payload.PairingCode, At: at}); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Warnf("[RECONCILER] failed to store QR for %s", s.instance)
	}
	s.markQR(at)
	s.emit(eventbroker.EventQRCode, payload)
	return false
}

// poll reports true when the instance reached connected.
func (r *Reconciler) poll(ctx context.Context, s *ReconcileSession) bool {
	status, err := r.provider.ConnectionState(ctx, s.instance)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return false
		case pkgError.IsNotFound(err):
			status = domain.StatusDisconnected
		default:
			if pkgError.IsProviderUnavailable(err) {
				logrus.WithError(err).Warnf("[RECONCILER] provider unavailable for %s, retrying next tick", s.instance)
			} else {
				logrus.WithError(err).Errorf("[RECONCILER] state check failed for %s", s.instance)
			}
			return false
		}
	}

	if _, err := r.conns.UpsertStatus(ctx, s.instance, domain.StatusUpdate{Status: status, At: r.now()}); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Warnf("[RECONCILER] failed to persist status for %s", s.instance)
	}
	s.emit(eventbroker.EventState, StatePayload{Status: status, Source: "poll"})

	if status == domain.StatusConnected {
		logrus.Infof("[RECONCILER] %s connected", s.instance)
		s.emitFinal(eventbroker.EventSuccess, StatePayload{Status: status, Source: "poll"})
		return true
	}
	return false
}

// eventStatus reads the status out of a state event, whether it was
// broadcast locally as a struct or relayed as raw JSON.
func eventStatus(data any) domain.Status {
	switch v := data.(type) {
	case StatePayload:
		return v.Status
	case json.RawMessage:
		return domain.Status(gjson.GetBytes(v, "status").String())
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return domain.Status(gjson.GetBytes(raw, "status").String())
}
