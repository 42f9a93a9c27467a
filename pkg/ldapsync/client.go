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

package ldapsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ClientConfig binds an RFC-4511 server connection to the attribute
// names this module reads/writes, since defguard deployments vary in
// schema (posixAccount vs inetOrgPerson-only directories).
type ClientConfig struct {
	URL          string
	BindDN       string
	BindPassword string
	UserBaseDN   string
	GroupBaseDN  string
	UserObjectClass  string // default "inetOrgPerson"
	GroupObjectClass string // default "groupOfNames"
	MemberAttribute  string // default "member", holds member DNs
	UsernameAttr     string // default "uid"
}

func (c ClientConfig) objectClass() string {
	if c.UserObjectClass == "" {
		return "inetOrgPerson"
	}
	return c.UserObjectClass
}

func (c ClientConfig) groupObjectClass() string {
	if c.GroupObjectClass == "" {
		return "groupOfNames"
	}
	return c.GroupObjectClass
}

func (c ClientConfig) memberAttr() string {
	if c.MemberAttribute == "" {
		return "member"
	}
	return c.MemberAttribute
}

func (c ClientConfig) usernameAttr() string {
	if c.UsernameAttr == "" {
		return "uid"
	}
	return c.UsernameAttr
}

// Client implements Directory against a real LDAP server via
// github.com/go-ldap/ldap/v3, dialing fresh for every operation so the
// caller never has to reason about reconnect/keepalive for a
// comparatively low-traffic reconciliation path.
type Client struct {
	cfg ClientConfig
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig) *Client { return &Client{cfg: cfg} }

func (c *Client) connect(ctx context.Context) (*ldap.Conn, error) {
	conn, err := ldap.DialURL(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ldap: dial %s: %w", c.cfg.URL, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}
	if err := conn.Bind(c.cfg.BindDN, c.cfg.BindPassword); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ldap: bind: %w", err)
	}
	return conn, nil
}

// splitDN separates a full DN into its first RDN component and the
// remaining path, matching the §3 ldap_rdn/ldap_user_path split.
func splitDN(dn string) (rdn, path string) {
	parts := strings.SplitN(dn, ",", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func entryToLdapUser(entry *ldap.Entry, usernameAttr string) LdapUser {
	rdn, path := splitDN(entry.DN)
	return LdapUser{
		RDN:       rdn,
		UserPath:  path,
		Username:  entry.GetAttributeValue(usernameAttr),
		Email:     entry.GetAttributeValue("mail"),
		FirstName: entry.GetAttributeValue("givenName"),
		LastName:  entry.GetAttributeValue("sn"),
		Phone:     entry.GetAttributeValue("telephoneNumber"),
	}
}

func (c *Client) SearchUsers(ctx context.Context) ([]LdapUser, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(objectClass=%s)", c.cfg.objectClass())
	req := ldap.NewSearchRequest(
		c.cfg.UserBaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"mail", "givenName", "sn", "telephoneNumber", c.cfg.usernameAttr()}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap: search users: %w", err)
	}
	out := make([]LdapUser, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, entryToLdapUser(e, c.cfg.usernameAttr()))
	}
	return out, nil
}

func (c *Client) SearchUserByUsername(ctx context.Context, username string) (LdapUser, bool, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return LdapUser{}, false, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(&(objectClass=%s)(%s=%s))", c.cfg.objectClass(), c.cfg.usernameAttr(), ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		c.cfg.UserBaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter, []string{"mail", "givenName", "sn", "telephoneNumber", c.cfg.usernameAttr()}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return LdapUser{}, false, fmt.Errorf("ldap: search by username: %w", err)
	}
	if len(res.Entries) == 0 {
		return LdapUser{}, false, nil
	}
	return entryToLdapUser(res.Entries[0], c.cfg.usernameAttr()), true, nil
}

func (c *Client) CreateUser(ctx context.Context, u LdapUser) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	dn := u.DN()
	if dn == "" {
		dn = fmt.Sprintf("%s=%s,%s", c.cfg.usernameAttr(), ldap.EscapeFilter(u.Username), c.cfg.UserBaseDN)
	}
	req := ldap.NewAddRequest(dn, nil)
	req.Attribute("objectClass", []string{"top", c.cfg.objectClass()})
	req.Attribute(c.cfg.usernameAttr(), []string{u.Username})
	req.Attribute("cn", []string{u.Username})
	req.Attribute("sn", []string{orPlaceholder(u.LastName)})
	if u.FirstName != "" {
		req.Attribute("givenName", []string{u.FirstName})
	}
	if u.Email != "" {
		req.Attribute("mail", []string{u.Email})
	}
	if u.Phone != "" {
		req.Attribute("telephoneNumber", []string{u.Phone})
	}
	if err := conn.Add(req); err != nil {
		return fmt.Errorf("ldap: add user %s: %w", dn, err)
	}
	return nil
}

func orPlaceholder(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (c *Client) UpdateUser(ctx context.Context, u LdapUser) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := ldap.NewModifyRequest(u.DN(), nil)
	req.Replace("sn", []string{orPlaceholder(u.LastName)})
	req.Replace("givenName", []string{u.FirstName})
	req.Replace("mail", []string{u.Email})
	req.Replace("telephoneNumber", []string{u.Phone})
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("ldap: modify user %s: %w", u.DN(), err)
	}
	return nil
}

func (c *Client) DeleteUser(ctx context.Context, dn string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
		return fmt.Errorf("ldap: delete user %s: %w", dn, err)
	}
	return nil
}

func (c *Client) groupDN(name string) string {
	return fmt.Sprintf("cn=%s,%s", ldap.EscapeFilter(name), c.cfg.GroupBaseDN)
}

func (c *Client) AddUserToGroup(ctx context.Context, userDN, groupName string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := ldap.NewModifyRequest(c.groupDN(groupName), nil)
	req.Add(c.cfg.memberAttr(), []string{userDN})
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("ldap: add %s to group %s: %w", userDN, groupName, err)
	}
	return nil
}

func (c *Client) RemoveUserFromGroup(ctx context.Context, userDN, groupName string) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := ldap.NewModifyRequest(c.groupDN(groupName), nil)
	req.Delete(c.cfg.memberAttr(), []string{userDN})
	if err := conn.Modify(req); err != nil {
		return fmt.Errorf("ldap: remove %s from group %s: %w", userDN, groupName, err)
	}
	return nil
}

func (c *Client) SearchGroups(ctx context.Context) ([]string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(objectClass=%s)", c.cfg.groupObjectClass())
	req := ldap.NewSearchRequest(
		c.cfg.GroupBaseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter, []string{"cn"}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap: search groups: %w", err)
	}
	out := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, e.GetAttributeValue("cn"))
	}
	return out, nil
}

func (c *Client) GroupMemberDNs(ctx context.Context, groupName string) ([]string, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		c.groupDN(groupName), ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", []string{c.cfg.memberAttr()}, nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("ldap: search group members %s: %w", groupName, err)
	}
	if len(res.Entries) == 0 {
		return nil, nil
	}
	return res.Entries[0].GetAttributeValues(c.cfg.memberAttr()), nil
}
