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

import "context"

// Stream is one bidirectional gateway connection: the core sends
// Update messages and receives PeerStats reports, as the generated
// stub for the §6 gateway RPC would expose to a hand-written caller.
type Stream interface {
	Send(*Update) error
	Recv() (*PeerStats, error)
	CloseSend() error
}

// Dialer opens a Stream to a gateway's URL. useTLS selects whether the
// initial connection is attempted over HTTPS (post-setup) or plaintext
// HTTP (pre-setup), per §4.7's "Subsequent connects probe HTTPS first".
type Dialer interface {
	Dial(ctx context.Context, url string, useTLS bool) (Stream, error)
}
