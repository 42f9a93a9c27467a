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

package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/defguard/core/pkg/acl"
)

// AclStore implements acl.Store against Postgres. Rule/Alias bodies are
// kept as jsonb (their shape, nested selectors and rangeset ranges,
// does not map cleanly onto a normalized schema); id, parent_id, and
// state are projected into real columns so ChildOfRule/
// AliasReferencedByRule are SQL queries on those columns instead of a
// full table scan in Go (the schema creates no secondary index).
type AclStore struct {
	pool *Pool
}

// NewAclStore constructs an AclStore backed by pool.
func NewAclStore(pool *Pool) *AclStore {
	return &AclStore{pool: pool}
}

const aclSchema = `
CREATE TABLE IF NOT EXISTS acl_rule (
	id        BIGINT PRIMARY KEY,
	parent_id BIGINT,
	state     SMALLINT NOT NULL,
	body      JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS acl_alias (
	id        BIGINT PRIMARY KEY,
	parent_id BIGINT,
	state     SMALLINT NOT NULL,
	body      JSONB NOT NULL
);
CREATE SEQUENCE IF NOT EXISTS acl_rule_id_seq;
CREATE SEQUENCE IF NOT EXISTS acl_alias_id_seq;
`

// EnsureSchema creates the acl_rule/acl_alias tables if they do not
// already exist. Called once at startup; production deployments would
// instead run this through a migration tool, but no such tool appears
// anywhere in the retrieved examples to depend on.
func (s *AclStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.pg.Exec(ctx, aclSchema)
	if err != nil {
		return fmt.Errorf("db: create acl schema: %w", err)
	}
	return nil
}

func (s *AclStore) NextRuleID() int64 {
	var id int64
	if err := s.pool.pg.QueryRow(context.Background(), `SELECT nextval('acl_rule_id_seq')`).Scan(&id); err != nil {
		panic(fmt.Sprintf("db: allocate rule id: %v", err))
	}
	return id
}

func (s *AclStore) GetRule(id int64) (acl.Rule, bool) {
	var body []byte
	err := s.pool.pg.QueryRow(context.Background(), `SELECT body FROM acl_rule WHERE id = $1`, id).Scan(&body)
	if err != nil {
		return acl.Rule{}, false
	}
	var r acl.Rule
	if err := json.Unmarshal(body, &r); err != nil {
		return acl.Rule{}, false
	}
	return r, true
}

func (s *AclStore) PutRule(r acl.Rule) {
	body, err := json.Marshal(r)
	if err != nil {
		panic(fmt.Sprintf("db: marshal rule: %v", err))
	}
	_, err = s.pool.pg.Exec(context.Background(), `
		INSERT INTO acl_rule (id, parent_id, state, body) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, state = EXCLUDED.state, body = EXCLUDED.body
	`, r.ID, r.ParentID, r.State, body)
	if err != nil {
		panic(fmt.Sprintf("db: upsert rule: %v", err))
	}
}

func (s *AclStore) DeleteRule(id int64) {
	_, err := s.pool.pg.Exec(context.Background(), `DELETE FROM acl_rule WHERE id = $1`, id)
	if err != nil {
		panic(fmt.Sprintf("db: delete rule: %v", err))
	}
}

func (s *AclStore) ChildOfRule(parentID int64) (acl.Rule, bool) {
	var body []byte
	err := s.pool.pg.QueryRow(context.Background(), `SELECT body FROM acl_rule WHERE parent_id = $1 LIMIT 1`, parentID).Scan(&body)
	if err != nil {
		return acl.Rule{}, false
	}
	var r acl.Rule
	if err := json.Unmarshal(body, &r); err != nil {
		return acl.Rule{}, false
	}
	return r, true
}

func (s *AclStore) NextAliasID() int64 {
	var id int64
	if err := s.pool.pg.QueryRow(context.Background(), `SELECT nextval('acl_alias_id_seq')`).Scan(&id); err != nil {
		panic(fmt.Sprintf("db: allocate alias id: %v", err))
	}
	return id
}

func (s *AclStore) GetAlias(id int64) (acl.Alias, bool) {
	var body []byte
	err := s.pool.pg.QueryRow(context.Background(), `SELECT body FROM acl_alias WHERE id = $1`, id).Scan(&body)
	if err != nil {
		return acl.Alias{}, false
	}
	var a acl.Alias
	if err := json.Unmarshal(body, &a); err != nil {
		return acl.Alias{}, false
	}
	return a, true
}

func (s *AclStore) PutAlias(a acl.Alias) {
	body, err := json.Marshal(a)
	if err != nil {
		panic(fmt.Sprintf("db: marshal alias: %v", err))
	}
	_, err = s.pool.pg.Exec(context.Background(), `
		INSERT INTO acl_alias (id, parent_id, state, body) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, state = EXCLUDED.state, body = EXCLUDED.body
	`, a.ID, a.ParentID, a.State, body)
	if err != nil {
		panic(fmt.Sprintf("db: upsert alias: %v", err))
	}
}

func (s *AclStore) DeleteAlias(id int64) {
	_, err := s.pool.pg.Exec(context.Background(), `DELETE FROM acl_alias WHERE id = $1`, id)
	if err != nil {
		panic(fmt.Sprintf("db: delete alias: %v", err))
	}
}

func (s *AclStore) ChildOfAlias(parentID int64) (acl.Alias, bool) {
	var body []byte
	err := s.pool.pg.QueryRow(context.Background(), `SELECT body FROM acl_alias WHERE parent_id = $1 LIMIT 1`, parentID).Scan(&body)
	if err != nil {
		return acl.Alias{}, false
	}
	var a acl.Alias
	if err := json.Unmarshal(body, &a); err != nil {
		return acl.Alias{}, false
	}
	return a, true
}

func (s *AclStore) AliasReferencedByRule(aliasID int64) bool {
	var exists bool
	err := s.pool.pg.QueryRow(context.Background(), `
		SELECT EXISTS (
			SELECT 1 FROM acl_rule
			WHERE state <> $2 AND body -> 'AliasIDs' @> to_jsonb($1::bigint)
		)
	`, aliasID, int(acl.StateDeleted)).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
