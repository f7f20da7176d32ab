package realtime

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"flowboard/domain"
)

const (
	defaultRelayWorkers = 4
	defaultRelayBuffer  = 256
	defaultRelayTimeout = 3 * time.Second
	relayHandoffTimeout = 15 * time.Millisecond
)

// RelaySender forwards events to the sibling process that owns the live
// connections, over a shared-secret HTTP endpoint. Delivery is at most once:
// there is no retry and no durable queue, and a failed call is logged and
// swallowed.
type RelaySender struct {
	url    string
	secret string
	client *http.Client
	logger *log.Logger

	jobs chan domain.Event
	wg   sync.WaitGroup
}

// NewRelaySender starts the sender's worker pool. timeout bounds each relay
// call; workers/buffer <= 0 fall back to defaults.
func NewRelaySender(url, secret string, timeout time.Duration, workers, buffer int, logger *log.Logger) *RelaySender {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if timeout <= 0 {
		timeout = defaultRelayTimeout
	}
	if workers <= 0 {
		workers = defaultRelayWorkers
	}
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	r := &RelaySender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		jobs:   make(chan domain.Event, buffer),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	logger.WithFields(log.Fields{"workers": workers, "buffer": buffer, "timeout": timeout}).Info("relay sender started")
	return r
}

// Send hands an event to the worker pool without blocking the request path.
// It reports false when the buffer stayed saturated past a short handoff
// window, in which case the event is dropped.
func (r *RelaySender) Send(ev domain.Event) (ok bool) {
	// Sending on a closed channel panics; a Send racing Close degrades to a
	// dropped event, consistent with the delivery guarantee.
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case r.jobs <- ev:
		return true
	default:
	}

	timer := time.NewTimer(relayHandoffTimeout)
	defer timer.Stop()
	select {
	case r.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops the workers after draining buffered events.
func (r *RelaySender) Close() {
	close(r.jobs)
	r.wg.Wait()
}

func (r *RelaySender) worker() {
	defer r.wg.Done()
	for ev := range r.jobs {
		r.deliver(ev)
	}
}

func (r *RelaySender) deliver(ev domain.Event) {
	body, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		r.logger.Errorf("marshal relay event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		r.logger.Errorf("build relay request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.secret)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.WithFields(log.Fields{"room": ev.Room, "type": ev.Type}).Warnf("relay call failed, event dropped: %v", err)
		return
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
	case http.StatusUnauthorized:
		r.logger.Error("relay rejected shared secret, event dropped")
	case http.StatusServiceUnavailable:
		r.logger.WithField("room", ev.Room).Debug("relay target has no transport yet, event dropped")
	default:
		r.logger.WithFields(log.Fields{"room": ev.Room, "status": resp.StatusCode}).Warn("unexpected relay response, event dropped")
	}
}
