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
	"log/slog"
	"sync"
	"time"

	gctx "github.com/defguard/core/pkg/context"
)

// NotificationKind discriminates a gateway-table change notification.
type NotificationKind int

const (
	NotifyInsert NotificationKind = iota
	NotifyUpdate
	NotifyDelete
)

// Notification is one row-change event on the gateways table (§4.7
// item 5), as a database LISTEN/NOTIFY channel (or equivalent poller)
// would deliver.
type Notification struct {
	Kind      NotificationKind
	GatewayID int64
	NetworkID int64
	URL       string
}

// slogAdapter satisfies the task logger interface with a *slog.Logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// Supervisor owns the set of per-gateway tasks and reacts to gateway
// table change notifications (§4.7 item 5): insert spawns a task,
// update with a changed URL aborts and respawns it, delete aborts it.
type Supervisor struct {
	mu      sync.Mutex
	tasks   map[int64]*runningTask
	dialer  Dialer
	prober  TLSProber
	setup   SetupClient
	ca      CertAuthority
	bc      *Broadcaster
	notify  DisconnectNotifier
	log     *slog.Logger

	disconnectThreshold func(networkID int64) time.Duration
}

type runningTask struct {
	url    string
	cancel func()
	t      *task
}

// NewSupervisor constructs a Supervisor. disconnectThreshold resolves
// a network's configured peer-disconnect threshold (§3), looked up
// fresh on every (re)spawn so a location edit takes effect on the next
// reconnect.
func NewSupervisor(dialer Dialer, prober TLSProber, setup SetupClient, ca CertAuthority, bc *Broadcaster, notify DisconnectNotifier, disconnectThreshold func(networkID int64) time.Duration, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		tasks:               map[int64]*runningTask{},
		dialer:              dialer,
		prober:              prober,
		setup:               setup,
		ca:                  ca,
		bc:                  bc,
		notify:              notify,
		disconnectThreshold: disconnectThreshold,
		log:                 log.With("component", "gateway_supervisor"),
	}
}

// Handle applies one Notification, per §4.7 item 5's insert/update/
// delete semantics.
func (s *Supervisor) Handle(ctx gctx.Context, n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch n.Kind {
	case NotifyInsert:
		s.spawnLocked(ctx, n)
	case NotifyUpdate:
		if existing, ok := s.tasks[n.GatewayID]; ok {
			if existing.url == n.URL {
				return // no URL change: nothing to do
			}
			s.abortLocked(n.GatewayID)
		}
		s.spawnLocked(ctx, n)
	case NotifyDelete:
		s.abortLocked(n.GatewayID)
	}
}

func (s *Supervisor) spawnLocked(ctx gctx.Context, n Notification) {
	taskCtx, cancel := gctx.WithCancel(ctx)
	threshold := 3 * time.Minute
	if s.disconnectThreshold != nil {
		threshold = s.disconnectThreshold(n.NetworkID)
	}
	t := &task{
		gatewayID: n.GatewayID,
		networkID: n.NetworkID,
		url:       n.URL,
		dialer:    s.dialer,
		prober:    s.prober,
		setup:     s.setup,
		ca:        s.ca,
		bc:        s.bc,
		tracker:   NewPeerTracker(threshold),
		notify:    s.notify,
		log:       slogAdapter{s.log},
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go t.run(taskCtx)
	s.tasks[n.GatewayID] = &runningTask{url: n.URL, cancel: cancel, t: t}
	s.log.Info("spawned gateway task", "gateway_id", n.GatewayID, "url", n.URL)
}

func (s *Supervisor) abortLocked(gatewayID int64) {
	if rt, ok := s.tasks[gatewayID]; ok {
		rt.cancel()
		delete(s.tasks, gatewayID)
		s.log.Info("aborted gateway task", "gateway_id", gatewayID)
	}
}

// Shutdown aborts every running task.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.tasks {
		s.abortLocked(id)
	}
}

// Running reports whether a gateway currently has an active task,
// mainly for tests.
func (s *Supervisor) Running(gatewayID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[gatewayID]
	return ok
}
