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

// Package jumpcloud adapts the JumpCloud Directory API to
// directory.Provider. JumpCloud authenticates with a static API key
// and reports group membership as user ids rather than emails, so
// GetGroupMembers relies on the core-supplied AllUsersLookup to
// resolve them.
package jumpcloud

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

// Options configures the JumpCloud adapter.
type Options struct {
	APIKey  string
	BaseURL string // defaults to https://console.jumpcloud.com/api
}

// Provider implements directory.Provider against the JumpCloud API.
type Provider struct {
	opts   Options
	client *http.Client
}

// New constructs a JumpCloud Provider.
func New(opts Options) *Provider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://console.jumpcloud.com/api"
	}
	return &Provider{opts: opts, client: directory.NewHTTPClient()}
}

func (p *Provider) Prepare(_ context.Context) error {
	if p.opts.APIKey == "" {
		return directory.NewError(directory.ErrorKindNotConfigured, fmt.Errorf("jumpcloud: missing api key"))
	}
	return nil
}

func (p *Provider) TestConnection(ctx context.Context) error {
	if err := p.Prepare(ctx); err != nil {
		return err
	}
	_, err := p.get(ctx, "/systemusers?limit=1")
	return err
}

type jcUser struct {
	ID        string `json:"_id"`
	Email     string `json:"email"`
	Suspended bool   `json:"suspended"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

type jcGroup struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type jcUserList struct {
	Results    []jcUser `json:"results"`
	TotalCount int      `json:"totalCount"`
}

type jcGroupList struct {
	Results    []jcGroup `json:"results"`
	TotalCount int       `json:"totalCount"`
}

type jcMemberList struct {
	Results []struct {
		To struct {
			ID string `json:"id"`
		} `json:"to"`
	} `json:"results"`
	TotalCount int `json:"totalCount"`
}

const pageSize = 100

func (p *Provider) GetAllUsers(ctx context.Context) ([]directory.DirectoryUser, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryUser
	for skip := 0; ; skip += pageSize {
		var page jcUserList
		if err := p.getJSON(ctx, fmt.Sprintf("/systemusers?limit=%d&skip=%d", pageSize, skip), &page); err != nil {
			return nil, err
		}
		for _, u := range page.Results {
			out = append(out, directory.DirectoryUser{
				ID:     u.ID,
				Email:  u.Email,
				Active: !u.Suspended,
				Details: map[string]string{
					"first_name": u.FirstName,
					"last_name":  u.LastName,
				},
			})
		}
		if len(out) >= page.TotalCount || len(page.Results) == 0 {
			break
		}
		time.Sleep(directory.PageDelay)
	}
	return out, nil
}

func (p *Provider) GetGroups(ctx context.Context) ([]directory.DirectoryGroup, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryGroup
	for skip := 0; ; skip += pageSize {
		var page jcGroupList
		if err := p.getJSON(ctx, fmt.Sprintf("/v2/usergroups?limit=%d&skip=%d", pageSize, skip), &page); err != nil {
			return nil, err
		}
		for _, g := range page.Results {
			out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.Name})
		}
		if len(out) >= page.TotalCount || len(page.Results) == 0 {
			break
		}
		time.Sleep(directory.PageDelay)
	}
	return out, nil
}

// GetGroupMembers returns member user ids resolved to emails via
// lookup, the accommodation §4.4 calls out by name for this provider.
func (p *Provider) GetGroupMembers(ctx context.Context, group directory.DirectoryGroup, lookup directory.AllUsersLookup) ([]string, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var emails []string
	for skip := 0; ; skip += pageSize {
		var page jcMemberList
		path := fmt.Sprintf("/v2/usergroups/%s/members?limit=%d&skip=%d", url.PathEscape(group.ID), pageSize, skip)
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Results {
			if lookup == nil {
				continue
			}
			if email, ok := lookup(m.To.ID); ok {
				emails = append(emails, email)
			}
		}
		if len(emails) >= page.TotalCount || len(page.Results) == 0 {
			break
		}
		time.Sleep(directory.PageDelay)
	}
	return emails, nil
}

func (p *Provider) GetUserGroups(ctx context.Context, email string) ([]directory.DirectoryGroup, error) {
	// JumpCloud's membership-by-id API requires resolving email to a
	// user id first; the core passes emails already resolved from a
	// prior GetAllUsers call, so this looks the user up by filter.
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var users jcUserList
	path := fmt.Sprintf("/systemusers?filter=email:eq:%s", url.QueryEscape(email))
	if err := p.getJSON(ctx, path, &users); err != nil {
		return nil, err
	}
	if len(users.Results) == 0 {
		return nil, nil
	}
	userID := users.Results[0].ID

	var groups jcGroupList
	if err := p.getJSON(ctx, fmt.Sprintf("/v2/systemusers/%s/memberof", url.PathEscape(userID)), &groups); err != nil {
		return nil, err
	}
	out := make([]directory.DirectoryGroup, 0, len(groups.Results))
	for _, g := range groups.Results {
		out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.opts.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, directory.NewError(directory.ErrorKindTransient, err)
	}
	req.Header.Set("x-api-key", p.opts.APIKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, directory.NewError(directory.ErrorKindTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, directory.NewError(directory.ErrorKindUnexpectedStatus, fmt.Errorf("jumpcloud api %s returned %d", path, resp.StatusCode))
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
