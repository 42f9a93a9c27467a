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

import "github.com/defguard/core/pkg/users"

// phoneEqual treats empty-string and unset phone as equal, per §4.6
// "Empty-string ↔ None are treated as equal for phone".
func phoneEqual(defguardPhone, ldapPhone string) bool {
	return defguardPhone == ldapPhone || (defguardPhone == "" && ldapPhone == "")
}

// attrsDiffer compares last_name, first_name, email, phone, and
// (when RDN != username) username, per §4.6 "Attribute diff".
func attrsDiffer(u users.User, lu LdapUser, cfg Config) bool {
	if u.LastName != lu.LastName {
		return true
	}
	if u.FirstName != lu.FirstName {
		return true
	}
	if u.Email != lu.Email {
		return true
	}
	if !phoneEqual(u.Phone, lu.Phone) {
		return true
	}
	if !cfg.UsingUsernameAsRDN && u.Username != lu.Username {
		return true
	}
	return false
}

// applyLdapAttrs overwrites the Defguard-side attributes with the
// LDAP-side values, used when merging an intersecting pair under
// LDAP authority.
func applyLdapAttrs(u users.User, lu LdapUser, cfg Config) users.User {
	u.LastName = lu.LastName
	u.FirstName = lu.FirstName
	u.Email = lu.Email
	u.Phone = lu.Phone
	if !cfg.UsingUsernameAsRDN {
		u.Username = lu.Username
	}
	u.LDAPRDN = lu.RDN
	u.LDAPUserPath = lu.UserPath
	return u
}

// intersectingUsers is one (Defguard, LDAP) pair matched by DN.
type intersectingUsers struct {
	Defguard users.User
	LDAP     LdapUser
}

// extractIntersectingUsers separates users present on both sides
// (matched by DN) from the disjoint remainders, per §4.6 "Intersection
// extraction". The returned slices are the users that were *not*
// matched; defguardOnly/ldapOnly are safe to treat as pure add/delete
// candidates afterward.
func extractIntersectingUsers(defguardUsers []users.User, ldapUsers []LdapUser) (intersecting []intersectingUsers, defguardOnly []users.User, ldapOnly []LdapUser) {
	ldapByDN := make(map[string]LdapUser, len(ldapUsers))
	ldapMatched := make(map[string]bool, len(ldapUsers))
	for _, lu := range ldapUsers {
		ldapByDN[lu.DN()] = lu
	}

	for _, u := range defguardUsers {
		dn := LdapUser{RDN: u.LDAPRDN, UserPath: u.LDAPUserPath}.DN()
		if lu, ok := ldapByDN[dn]; ok && u.LDAPRDN != "" {
			intersecting = append(intersecting, intersectingUsers{Defguard: u, LDAP: lu})
			ldapMatched[dn] = true
			continue
		}
		defguardOnly = append(defguardOnly, u)
	}
	for _, lu := range ldapUsers {
		if !ldapMatched[lu.DN()] {
			ldapOnly = append(ldapOnly, lu)
		}
	}
	return intersecting, defguardOnly, ldapOnly
}
