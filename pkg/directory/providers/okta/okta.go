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

// Package okta adapts the Okta Users/Groups API to directory.Provider.
package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/defguard/core/pkg/directory"
)

// Options configures the Okta adapter.
type Options struct {
	OrgURL       string // e.g. https://example.okta.com
	ClientID     string
	ClientSecret string
}

// Provider implements directory.Provider against the Okta API.
type Provider struct {
	opts   Options
	client *http.Client
	token  directory.BearerToken
}

// New constructs an Okta Provider.
func New(opts Options) *Provider {
	return &Provider{opts: opts, client: directory.NewHTTPClient()}
}

func (p *Provider) Prepare(ctx context.Context) error {
	if p.opts.OrgURL == "" || p.opts.ClientID == "" || p.opts.ClientSecret == "" {
		return directory.NewError(directory.ErrorKindNotConfigured, fmt.Errorf("okta: missing org url or client credentials"))
	}
	if p.token.Valid() {
		return nil
	}
	tokenURL := strings.TrimRight(p.opts.OrgURL, "/") + "/oauth2/v1/token"
	tok, ttl, err := directory.FetchClientCredentialsToken(ctx, p.client, tokenURL, p.opts.ClientID, p.opts.ClientSecret, "okta.users.read okta.groups.read")
	if err != nil {
		return err
	}
	p.token.Set(tok, ttl)
	return nil
}

func (p *Provider) TestConnection(ctx context.Context) error {
	if err := p.Prepare(ctx); err != nil {
		return err
	}
	_, err := p.get(ctx, "/api/v1/users/me")
	return err
}

type oktaUser struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Profile struct {
		Email     string `json:"email"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		MobilePhone string `json:"mobilePhone"`
	} `json:"profile"`
}

type oktaGroup struct {
	ID      string `json:"id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

func (p *Provider) GetAllUsers(ctx context.Context) ([]directory.DirectoryUser, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryUser
	path := "/api/v1/users?limit=200"
	for path != "" {
		var users []oktaUser
		next, err := p.getJSONPaged(ctx, path, &users)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, directory.DirectoryUser{
				ID:     u.ID,
				Email:  u.Profile.Email,
				Active: u.Status == "ACTIVE",
				Details: map[string]string{
					"first_name": u.Profile.FirstName,
					"last_name":  u.Profile.LastName,
					"phone":      u.Profile.MobilePhone,
				},
			})
		}
		path = next
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
	path := "/api/v1/groups?limit=200"
	for path != "" {
		var groups []oktaGroup
		next, err := p.getJSONPaged(ctx, path, &groups)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.Profile.Name})
		}
		path = next
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
	path := fmt.Sprintf("/api/v1/groups/%s/users?limit=200", url.PathEscape(group.ID))
	for path != "" {
		var users []oktaUser
		next, err := p.getJSONPaged(ctx, path, &users)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			emails = append(emails, u.Profile.Email)
		}
		path = next
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
	var groups []oktaGroup
	path := fmt.Sprintf("/api/v1/users/%s/groups", url.PathEscape(email))
	if _, err := p.getJSONPaged(ctx, path, &groups); err != nil {
		return nil, err
	}
	out := make([]directory.DirectoryGroup, 0, len(groups))
	for _, g := range groups {
		out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.Profile.Name})
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.opts.OrgURL, "/")+path, nil)
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
		return nil, directory.NewError(directory.ErrorKindUnexpectedStatus, fmt.Errorf("okta api %s returned %d", path, resp.StatusCode))
	}
	return resp, nil
}

func (p *Provider) getJSONPaged(ctx context.Context, path string, out any) (nextPath string, err error) {
	resp, err := p.get(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return "", directory.NewError(directory.ErrorKindDecode, decodeErr)
	}
	return parseOktaNextLink(resp.Header.Get("Link"), p.opts.OrgURL), nil
}

// parseOktaNextLink extracts the rel="next" target from an RFC 5988
// Link header, Okta's pagination mechanism.
func parseOktaNextLink(link, orgURL string) string {
	for _, part := range strings.Split(link, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start < 0 || end < 0 || end <= start {
			continue
		}
		full := part[start+1 : end]
		return strings.TrimPrefix(full, strings.TrimRight(orgURL, "/"))
	}
	return ""
}
