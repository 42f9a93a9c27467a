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

// Package google adapts the Google Workspace Admin SDK Directory API
// to directory.Provider, authenticating via a service-account JWT
// bearer assertion with domain-wide delegation (RFC 7523).
package google

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/defguard/core/pkg/directory"
)

const tokenURL = "https://oauth2.googleapis.com/token"
const baseURL = "https://admin.googleapis.com/admin/directory/v1"
const scope = "https://www.googleapis.com/auth/admin.directory.user.readonly https://www.googleapis.com/auth/admin.directory.group.readonly"

// Options configures the Google Workspace adapter.
type Options struct {
	ServiceAccountEmail string
	ImpersonatedAdmin   string // the admin user the service account delegates as
	PrivateKey          *rsa.PrivateKey
	CustomerID          string // usually "my_customer"
}

// Provider implements directory.Provider against Google Workspace.
type Provider struct {
	opts   Options
	client *http.Client
	token  directory.BearerToken
}

// New constructs a Google Workspace Provider.
func New(opts Options) *Provider {
	return &Provider{opts: opts, client: directory.NewHTTPClient()}
}

func (p *Provider) Prepare(ctx context.Context) error {
	if p.opts.ServiceAccountEmail == "" || p.opts.ImpersonatedAdmin == "" || p.opts.PrivateKey == nil {
		return directory.NewError(directory.ErrorKindNotConfigured, fmt.Errorf("google: missing service account credentials"))
	}
	if p.token.Valid() {
		return nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   p.opts.ServiceAccountEmail,
		"sub":   p.opts.ImpersonatedAdmin,
		"scope": scope,
		"aud":   tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.opts.PrivateKey)
	if err != nil {
		return directory.NewError(directory.ErrorKindFatal, fmt.Errorf("sign service-account assertion: %w", err))
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return directory.NewError(directory.ErrorKindTransient, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return directory.NewError(directory.ErrorKindTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return directory.NewError(directory.ErrorKindUnexpectedStatus, fmt.Errorf("google token endpoint returned %d", resp.StatusCode))
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return directory.NewError(directory.ErrorKindDecode, err)
	}
	p.token.Set(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	return nil
}

func (p *Provider) TestConnection(ctx context.Context) error {
	if err := p.Prepare(ctx); err != nil {
		return err
	}
	_, err := p.get(ctx, "/users?customer="+url.QueryEscape(p.customerID())+"&maxResults=1")
	return err
}

func (p *Provider) customerID() string {
	if p.opts.CustomerID == "" {
		return "my_customer"
	}
	return p.opts.CustomerID
}

type gUser struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primaryEmail"`
	Suspended    bool   `json:"suspended"`
	Name         struct {
		GivenName  string `json:"givenName"`
		FamilyName string `json:"familyName"`
	} `json:"name"`
}

type gGroup struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type gUserPage struct {
	Users         []gUser `json:"users"`
	NextPageToken string  `json:"nextPageToken"`
}

type gGroupPage struct {
	Groups        []gGroup `json:"groups"`
	NextPageToken string   `json:"nextPageToken"`
}

type gMemberPage struct {
	Members []struct {
		Email string `json:"email"`
	} `json:"members"`
	NextPageToken string `json:"nextPageToken"`
}

func (p *Provider) GetAllUsers(ctx context.Context) ([]directory.DirectoryUser, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryUser
	pageToken := ""
	for {
		path := fmt.Sprintf("/users?customer=%s&maxResults=200", url.QueryEscape(p.customerID()))
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var page gUserPage
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			out = append(out, directory.DirectoryUser{
				ID:     u.ID,
				Email:  u.PrimaryEmail,
				Active: !u.Suspended,
				Details: map[string]string{
					"first_name": u.Name.GivenName,
					"last_name":  u.Name.FamilyName,
				},
			})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
		time.Sleep(directory.PageDelay)
	}
	return out, nil
}

func (p *Provider) GetGroups(ctx context.Context) ([]directory.DirectoryGroup, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryGroup
	pageToken := ""
	for {
		path := fmt.Sprintf("/groups?customer=%s&maxResults=200", url.QueryEscape(p.customerID()))
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var page gGroupPage
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, g := range page.Groups {
			out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.Name})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
		time.Sleep(directory.PageDelay)
	}
	return out, nil
}

func (p *Provider) GetGroupMembers(ctx context.Context, group directory.DirectoryGroup, _ directory.AllUsersLookup) ([]string, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var emails []string
	pageToken := ""
	for {
		path := fmt.Sprintf("/groups/%s/members?maxResults=200", url.PathEscape(group.ID))
		if pageToken != "" {
			path += "&pageToken=" + url.QueryEscape(pageToken)
		}
		var page gMemberPage
		if err := p.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, m := range page.Members {
			emails = append(emails, m.Email)
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
		time.Sleep(directory.PageDelay)
	}
	return emails, nil
}

func (p *Provider) GetUserGroups(ctx context.Context, email string) ([]directory.DirectoryGroup, error) {
	if err := p.Prepare(ctx); err != nil {
		return nil, err
	}
	var out []directory.DirectoryGroup
	path := "/groups?userKey=" + url.QueryEscape(email)
	var page gGroupPage
	if err := p.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	for _, g := range page.Groups {
		out = append(out, directory.DirectoryGroup{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

func (p *Provider) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
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
		return nil, directory.NewError(directory.ErrorKindUnexpectedStatus, fmt.Errorf("google directory api %s returned %d", path, resp.StatusCode))
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
