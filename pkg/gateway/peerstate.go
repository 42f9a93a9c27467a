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
)

// PeerState tracks one connected-client's last reported handshake, per
// §4.7 item 4: "updates per-peer connected-client state with the
// reported latest_handshake; declares a peer disconnected if
// now - latest_handshake > peer_disconnect_threshold."
type PeerState struct {
	LatestHandshake time.Time
	Connected       bool
}

// PeerTracker is the process-local, non-persistent per-gateway
// connected-peer table (§3 "Gateway stream state ... is process-local,
// non-persistent, and evicted on disconnect").
type PeerTracker struct {
	mu        sync.Mutex
	threshold time.Duration
	peers     map[string]*PeerState
}

// NewPeerTracker constructs a tracker enforcing the given
// peer-disconnect threshold.
func NewPeerTracker(threshold time.Duration) *PeerTracker {
	return &PeerTracker{threshold: threshold, peers: map[string]*PeerState{}}
}

// Report records a PeerStats update from the gateway.
func (t *PeerTracker) Report(stats PeerStats, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.peers[stats.Pubkey]
	if !ok {
		s = &PeerState{}
		t.peers[stats.Pubkey] = s
	}
	s.LatestHandshake = stats.LatestHandshake
	s.Connected = now.Sub(s.LatestHandshake) <= t.threshold
}

// Scan re-evaluates every tracked peer's connected state against now
// and returns the pubkeys that just transitioned to disconnected.
func (t *PeerTracker) Scan(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var disconnected []string
	for pubkey, s := range t.peers {
		stillConnected := now.Sub(s.LatestHandshake) <= t.threshold
		if s.Connected && !stillConnected {
			disconnected = append(disconnected, pubkey)
		}
		s.Connected = stillConnected
	}
	return disconnected
}

// Evict drops all tracked state, called when a gateway's stream
// disconnects (§3).
func (t *PeerTracker) Evict() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers = map[string]*PeerState{}
}
