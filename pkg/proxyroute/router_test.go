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

package proxyroute

import "testing"

type recordingSender struct {
	received []Response
}

func (r *recordingSender) Send(resp Response) {
	r.received = append(r.received, resp)
}

func TestRouteResponseFansOutToBothProxies(t *testing.T) {
	router := New()
	pollingProxy := &recordingSender{}
	mobileProxy := &recordingSender{}

	router.RegisterRequest(Request{Kind: RequestClientMfaTokenValidation, Token: "tok-1"}, pollingProxy)
	router.RegisterRequest(Request{Kind: RequestClientMfaFinish, Token: "tok-1"}, mobileProxy)

	routed := router.RouteResponse(Response{Token: "tok-1", Final: true, Payload: "psk"})
	if !routed {
		t.Fatal("expected response to be routed")
	}
	if len(pollingProxy.received) != 1 || len(mobileProxy.received) != 1 {
		t.Fatalf("expected both proxies to receive the response, got %d and %d", len(pollingProxy.received), len(mobileProxy.received))
	}

	if router.Pending() != 0 {
		t.Fatalf("expected the token to be forgotten after a final response, got %d pending", router.Pending())
	}
}

func TestRouteResponseWithoutTokenIsUnrouted(t *testing.T) {
	router := New()
	if router.RouteResponse(Response{}) {
		t.Fatal("expected a tokenless response to be reported unrouted")
	}
}

func TestRouteResponseUnknownTokenFallsThrough(t *testing.T) {
	router := New()
	if router.RouteResponse(Response{Token: "never-registered"}) {
		t.Fatal("expected an unregistered token to be reported unrouted")
	}
}

func TestClientMfaFinishAppendsRatherThanReplaces(t *testing.T) {
	router := New()
	first := &recordingSender{}
	second := &recordingSender{}

	router.RegisterRequest(Request{Kind: RequestClientMfaTokenValidation, Token: "tok-2"}, first)
	router.RegisterRequest(Request{Kind: RequestClientMfaFinish, Token: "tok-2"}, second)
	router.RegisterRequest(Request{Kind: RequestClientMfaFinish, Token: "tok-2"}, second)

	router.RouteResponse(Response{Token: "tok-2", Final: true})
	if len(first.received) != 1 || len(second.received) != 2 {
		t.Fatalf("expected the first sender once and the second twice, got %d and %d", len(first.received), len(second.received))
	}
}

func TestNonFinalResponseKeepsTokenRegistered(t *testing.T) {
	router := New()
	sender := &recordingSender{}
	router.RegisterRequest(Request{Kind: RequestClientMfaTokenValidation, Token: "tok-3"}, sender)

	router.RouteResponse(Response{Token: "tok-3"})
	if router.Pending() != 1 {
		t.Fatalf("expected the token to remain registered after a non-final response, got %d pending", router.Pending())
	}
}
