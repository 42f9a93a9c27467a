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
	"testing"
	"time"
)

func TestBroadcasterDeliversEventToSubscriber(t *testing.T) {
	bc := NewBroadcaster()
	_, ch := bc.Subscribe()

	bc.Broadcast(Event{Kind: EventNetworkCreated, NetworkID: 1})

	select {
	case ev := <-ch:
		if ev.NetworkID != 1 {
			t.Fatalf("expected network id 1, got %d", ev.NetworkID)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestBroadcasterDropsSlowSubscriber(t *testing.T) {
	bc := NewBroadcaster()
	id, ch := bc.Subscribe()
	_ = ch

	for i := 0; i < subscriberBuffer+10; i++ {
		bc.Broadcast(Event{Kind: EventNetworkModified, NetworkID: int64(i)})
	}

	bc.mu.Lock()
	_, stillRegistered := bc.subs[id]
	bc.mu.Unlock()
	if stillRegistered {
		t.Fatal("expected the slow subscriber to have been dropped")
	}
}

func TestPeerTrackerDeclaresDisconnect(t *testing.T) {
	threshold := 30 * time.Second
	tr := NewPeerTracker(threshold)
	base := time.Now()

	tr.Report(PeerStats{Pubkey: "abc", LatestHandshake: base}, base)
	if disc := tr.Scan(base.Add(10 * time.Second)); len(disc) != 0 {
		t.Fatalf("expected peer to remain connected within threshold, got %v", disc)
	}

	disc := tr.Scan(base.Add(31 * time.Second))
	if len(disc) != 1 || disc[0] != "abc" {
		t.Fatalf("expected peer abc to disconnect, got %v", disc)
	}
	// Already-reported disconnect should not repeat on the next scan.
	if disc := tr.Scan(base.Add(60 * time.Second)); len(disc) != 0 {
		t.Fatalf("expected no repeat disconnect notification, got %v", disc)
	}
}

func TestEventToUpdateMapsKindAndType(t *testing.T) {
	u := eventToUpdate(Event{Kind: EventNetworkCreated, Network: &Network{Name: "loc1"}})
	if u.Type != UpdateCreate || u.Kind != PayloadNetwork || u.Network.Name != "loc1" {
		t.Fatalf("unexpected update: %+v", u)
	}

	u = eventToUpdate(Event{Kind: EventFirewallDisabled})
	if u.Type != UpdateModify || u.Kind != PayloadDisableFirewall {
		t.Fatalf("unexpected disable-firewall update: %+v", u)
	}
}
