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

// Package directory defines the uniform Provider abstraction (§4.4)
// over the four supported directory services, plus the shared HTTP
// discipline (timeout, pagination delay, error-kind mapping) every
// adapter in pkg/directory/providers follows.
package directory

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// RequestTimeout is the fixed per-request timeout §4.4 mandates for
// every directory HTTP call.
const RequestTimeout = 10 * time.Second

// PageDelay is the fixed inter-page delay §4.4 mandates for paginated
// endpoints, to stay under provider rate limits.
const PageDelay = 100 * time.Millisecond

// ErrorKind classifies a directory-provider failure by recovery
// semantics, mirroring the §7 error taxonomy.
type ErrorKind int

const (
	ErrorKindTransient ErrorKind = iota
	ErrorKindNotConfigured
	ErrorKindUnsupportedProvider
	ErrorKindDecode
	ErrorKindUnexpectedStatus
	ErrorKindFatal
)

// Error wraps a provider failure with its recovery kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error of the given kind.
func NewError(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

// DirectoryUser is one user record as returned by get_all_users.
type DirectoryUser struct {
	ID      string
	Email   string
	Active  bool
	Details map[string]string
}

// DirectoryGroup is one group record.
type DirectoryGroup struct {
	ID   string
	Name string
}

// AllUsersLookup resolves a member id to an email for providers (e.g.
// JumpCloud) that report group membership by id rather than email.
type AllUsersLookup func(id string) (email string, ok bool)

// Provider is the §4.4 uniform directory-sync client interface.
type Provider interface {
	Prepare(ctx context.Context) error
	TestConnection(ctx context.Context) error
	GetAllUsers(ctx context.Context) ([]DirectoryUser, error)
	GetGroups(ctx context.Context) ([]DirectoryGroup, error)
	GetGroupMembers(ctx context.Context, group DirectoryGroup, lookup AllUsersLookup) ([]string, error)
	GetUserGroups(ctx context.Context, email string) ([]DirectoryGroup, error)
}

// PrefetchUsersProvider is implemented by adapters (Microsoft Entra)
// whose directory-minus-Defguard users should be created eagerly
// during a full sync (§4.5), rather than only reconciled against
// existing Defguard accounts.
type PrefetchUsersProvider interface {
	Provider
	PrefetchUsers() bool
}

// Name identifies which provider a stored configuration selects.
type Name string

const (
	NameGoogle     Name = "google"
	NameEntra      Name = "entra"
	NameOkta       Name = "okta"
	NameJumpCloud  Name = "jumpcloud"
)

// ErrUnsupportedProvider is returned when a stored provider name does
// not match any known adapter.
var ErrUnsupportedProvider = errors.New("unsupported directory provider")

// NewHTTPClient builds the *http.Client every adapter shares, bound to
// the §4.4 request timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: RequestTimeout}
}
