/*
Copyright 2024 The Defguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package gateway

import (
	"sync"
	"time"

	gctx "github.com/defguard/core/pkg/context"
)

// ReconnectBackoff is the §4.7/§5 fixed reconnect delay.
const ReconnectBackoff = 5 * time.Second

// DisconnectNotifier is told when a peer transitions to disconnected,
// so the caller can fan out an EventMfaSessionDisconnected or update
// connection-state observability.
type DisconnectNotifier interface {
	PeerDisconnected(gatewayID int64, networkID int64, pubkey string)
}

// task is the per-gateway supervised loop (§4.7): connect, probe/setup
// TLS if needed, subscribe to the broadcaster filtered by network id,
// forward events as Updates, ingest PeerStats, and reconnect with a
// fixed backoff on any error.
type task struct {
	gatewayID int64
	networkID int64
	url       string

	dialer  Dialer
	prober  TLSProber
	setup   SetupClient
	ca      CertAuthority
	bc      *Broadcaster
	tracker *PeerTracker
	notify  DisconnectNotifier
	log     logger

	cancel func()
	done   chan struct{}
}

// logger is the minimal subset of *slog.Logger task needs, kept narrow
// so tests can stub it without pulling in log/slog.
type logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func (t *task) run(ctx gctx.Context) {
	defer close(t.done)
	subID, events := t.bc.Subscribe()
	defer func() { t.bc.Unsubscribe(subID) }()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := t.connectAndServe(ctx, events); err != nil {
			t.log.Warn("gateway stream error, reconnecting", "gateway_id", t.gatewayID, "url", t.url, "err", err)
			t.tracker.Evict()
			if err == errSubscriberDropped {
				subID, events = t.bc.Subscribe()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectBackoff):
		}
	}
}

// connectAndServe performs the §4.7 probe/setup dance, opens the
// stream, and runs send/recv loops until either fails.
func (t *task) connectAndServe(ctx gctx.Context, events <-chan Event) error {
	if t.prober != nil {
		needsSetup, err := NeedsSetup(ctx, t.prober, t.url)
		if err != nil {
			return err
		}
		if needsSetup {
			if err := PerformInitialSetup(ctx, t.setup, t.ca, t.url); err != nil {
				return err
			}
		}
	}

	useTLS := true
	stream, err := t.dialer.Dial(ctx, t.url, useTLS)
	if err != nil && useTLS {
		// Plaintext fallback for a gateway that hasn't completed setup.
		stream, err = t.dialer.Dial(ctx, t.url, false)
	}
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- t.sendLoop(ctx, stream, events)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- t.recvLoop(stream)
	}()

	err = <-errCh
	// Closing the stream makes the loop that is still running return.
	stream.CloseSend()
	wg.Wait()
	return err
}

func (t *task) sendLoop(ctx gctx.Context, stream Stream, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errSubscriberDropped
			}
			if ev.NetworkID != t.networkID {
				continue // §4.7 item 2: gateways are partitioned by location
			}
			if err := stream.Send(eventToUpdate(ev)); err != nil {
				return err
			}
		}
	}
}

func (t *task) recvLoop(stream Stream) error {
	for {
		stats, err := stream.Recv()
		if err != nil {
			return err
		}
		now := time.Now()
		t.tracker.Report(*stats, now)
		for _, pubkey := range t.tracker.Scan(now) {
			if t.notify != nil {
				t.notify.PeerDisconnected(t.gatewayID, t.networkID, pubkey)
			}
		}
	}
}

type subscriberDroppedError struct{}

func (subscriberDroppedError) Error() string { return "gateway: event subscriber dropped (backpressure)" }

var errSubscriberDropped = subscriberDroppedError{}

// eventToUpdate maps a core Event onto its wire Update per §4.7 item 3.
func eventToUpdate(ev Event) *Update {
	u := &Update{}
	switch ev.Kind {
	case EventNetworkCreated:
		u.Type, u.Kind, u.Network = UpdateCreate, PayloadNetwork, ev.Network
	case EventNetworkModified:
		u.Type, u.Kind, u.Network = UpdateModify, PayloadNetwork, ev.Network
	case EventNetworkDeleted:
		u.Type, u.Kind = UpdateDelete, PayloadNetwork
	case EventDeviceCreated:
		u.Type, u.Kind, u.Peer = UpdateCreate, PayloadPeer, ev.Peer
	case EventDeviceModified:
		u.Type, u.Kind, u.Peer = UpdateModify, PayloadPeer, ev.Peer
	case EventDeviceDeleted:
		u.Type, u.Kind, u.Peer = UpdateDelete, PayloadPeer, ev.Peer
	case EventFirewallConfigChanged:
		u.Type, u.Kind, u.FirewallConfig = UpdateModify, PayloadFirewallConfig, ev.FirewallConfig
	case EventFirewallDisabled:
		u.Type, u.Kind = UpdateModify, PayloadDisableFirewall
	case EventMfaSessionAuthorized, EventMfaSessionDisconnected:
		u.Type, u.Kind, u.Peer = UpdateModify, PayloadPeer, ev.Peer
	}
	return u
}
