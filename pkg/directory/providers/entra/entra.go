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

// Package entra adapts Microsoft Entra ID (Graph API) to the
// directory.Provider interface. Entra is a "prefetch-users" provider
// (§4.5): users present in the directory but absent from Defguard are
// created eagerly during a full sync.
package entra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/defguard/core/pkg/directory"
)

// Options configures the Entra adapter.
type Options struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	BaseURL      string // defaults to https://graph.microsoft.com/v1.0
}

// Provider implements directory.Provider against the Microsoft Graph
// API.
type Provider struct {
	opts   Options
	client *http.Client
	token  directory.BearerToken
}

// New constructs an Entra Provider.
func New(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	return &Provider{opts: opts, client: directory.NewHTTPClient()}
}

func (p *Provider) Prepare(ctx context.Context) error {
	if p.opts.ClientID == "" || p.opts.ClientSecret == "" || p.opts.TenantID == "" {
		return directory.NewError(directory.ErrorKindNotConfigured, fmt.Errorf("entra: missing tenant/client credentials"))
	}
	if p.token.Valid() {
		return nil
	}
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", p.opts.TenantID)
	tok, ttl, err := directory.FetchClientCredentialsToken(ctx, p.client, tokenURL, p.opts.ClientID, p.opts.ClientSecret, "https://graph.microsoft.com/.default")
	if err != nil {
		return err
	}
	p.token.Set(tok, ttl)
	return nil
}

func (p *Provider) PrefetchUsers() bool { return true }

func (p *Provider) TestConnection(ctx context.Context) error {
	if err := p.Prepare(ctx); err != nil {
		return err
	}
	_, err := p.get(ctx, "/organization")
	return err
}

type graphUser struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    bool   `json:"accountEnabled"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
}

type graphGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

func (p *Provider) GetAllUsers(ctx context.Context) ([]directory.DirectoryUser, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryUser
	path := "/users?$select=id,mail,userPrincipalName,accountEnabled,givenName,surname"
	for path != "" {
		var page graphPage[graphUser]
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Value {
			email := u.Mail
			if email == "" {
				email = u.UserPrincipalName
			}
			out = append(out, directory.DirectoryUser{
				ID:     u.ID,
				Email:  email,
				Active: u.AccountEnabled,
				Details: map[string]string{
					"first_name": u.GivenName,
					"last_name":  u.Surname,
				},
			})
		}
		path = relativeNextLink(page.NextLink, p.opts.BaseURL)
		if path != "" {
			time.Sleep(directory.PageDelay)
		}
	}
	return out, nil
}

func (p *Provider) GetGroups(ctx context.Context) ([]directory.DirectoryGroup, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryGroup
	path := "/groups?$select=id,displayName"
	for path != "" {
		var page graphPage[graphGroup]
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Value {
			out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.DisplayName})
		}
		path = relativeNextLink(page.NextLink, p.opts.BaseURL)
		if path != "" {
			time.Sleep(directory.PageDelay)
		}
	}
	return out, nil
}

func (p *Provider) GetGroupMembers(ctx context.Context, group directory.DirectoryGroup, _ directory.AllUsersLookup) ([]string, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var emails []string
	path := fmt.Sprintf("/groups/%s/members?$select=mail,userPrincipalName", url.PathEscape(group.ID))
	for path != "" {
		var page graphPage[graphUser]
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Value {
			email := u.Mail
			if email == "" {
				email = u.UserPrincipalName
			}
			if email != "" {
				emails = append(emails, email)
			}
		}
		path = relativeNextLink(page.NextLink, p.opts.BaseURL)
		if path != "" {
			time.Sleep(directory.PageDelay)
		}
	}
	return emails, nil
}

func (p *Provider) GetUserGroups(ctx context.Context, email string) ([]directory.DirectoryGroup, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryGroup
	path := fmt.Sprintf("/users/%s/memberOf?$select=id,displayName", url.PathEscape(email))
	var page graphPage[graphGroup]
	if err := p.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	for _, g := range page.Value {
		out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.DisplayName})
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.BaseURL+path, nil)
	if err != nil {
		return nil, directory.NewError(directory.ErrorKindTransient, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token.String())
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, directory.NewError(directory.ErrorKindTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, directory.NewError(directory.ErrorKindUnexpectedStatus, fmt.Errorf("graph api %s returned %d", path, resp.StatusCode))
	}
	return resp, nil
}

func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	resp, err := p.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return directory.NewError(directory.ErrorKindDecode, err)
	}
	return nil
}

func relativeNextLink(next, baseURL string) string {
	if next == "" {
		return ""
	}
	if len(next) > len(baseURL) && next[:len(baseURL)] == baseURL {
		return next[len(baseURL):]
	}
	return next
}
