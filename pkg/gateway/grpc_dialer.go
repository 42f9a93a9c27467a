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
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/keepalive"
)

// keepaliveParams is the HTTP/2 half of the §5/§4.7 fixed keepalive
// discipline: a 10-second ping. The 10-second TCP keepalive is set on
// the net.Dialer that Dial installs.
var keepaliveParams = keepalive.ClientParameters{
	Time:                10 * time.Second,
	Timeout:             10 * time.Second,
	PermitWithoutStream: true,
}

const updateStreamMethod = "/defguard.gateway.GatewayService/Updates"

// wireCodecName names the codec this module registers below. Wiring a
// real protobuf-shaped wire format via protoc-gen-go requires running
// the protobuf toolchain against a .proto file, which this module does
// not do (no toolchain execution, per the build constraints this
// module was produced under); a grpc.Codec is a fully supported
// extension point, so the transport (dial, keepalive, TLS upgrade,
// streaming, status codes) is the real google.golang.org/grpc stack
// end-to-end, with message framing done through encoding/json instead
// of a generated protobuf codec.
const wireCodecName = "defguard-gateway-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return wireCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCDialer is the production Dialer: it opens a real
// *grpc.ClientConn per gateway URL (TLS or plaintext per useTLS) with
// the §5 keepalive discipline, then opens the bidirectional Updates
// stream on it.
type GRPCDialer struct {
	// InsecureSkipVerify is only ever set by tests against a local
	// listener with a self-signed certificate.
	InsecureSkipVerify bool
}

func (d *GRPCDialer) Dial(ctx context.Context, url string, useTLS bool) (Stream, error) {
	var creds credentials.TransportCredentials
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{InsecureSkipVerify: d.InsecureSkipVerify})
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(url,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepaliveParams),
		grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
			return (&net.Dialer{KeepAlive: 10 * time.Second}).DialContext(ctx, "tcp", addr)
		}),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wireCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", url, err)
	}

	desc := &grpc.StreamDesc{StreamName: "Updates", ClientStreams: true, ServerStreams: true}
	cs, err := conn.NewStream(ctx, desc, updateStreamMethod)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("gateway: open stream to %s: %w", url, err)
	}
	return &grpcStream{conn: conn, cs: cs}, nil
}

// grpcStream adapts a *grpc.ClientStream to the Stream interface.
type grpcStream struct {
	conn *grpc.ClientConn
	cs   grpc.ClientStream
}

func (s *grpcStream) Send(u *Update) error {
	return s.cs.SendMsg(u)
}

func (s *grpcStream) Recv() (*PeerStats, error) {
	stats := new(PeerStats)
	if err := s.cs.RecvMsg(stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *grpcStream) CloseSend() error {
	err := s.cs.CloseSend()
	s.conn.Close()
	return err
}
