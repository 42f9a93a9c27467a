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

	"github.com/defguard/core/pkg/gateway"
)

// gatewayChangesChannel is the Postgres NOTIFY channel a trigger on the
// gateways table publishes to (§4.7 item 5: "Observes a database
// notification channel for gateway-URL changes").
const gatewayChangesChannel = "gateway_changes"

// gatewayChangePayload is the JSON body the gateways-table trigger
// publishes via pg_notify.
type gatewayChangePayload struct {
	Kind      string `json:"kind"` // "insert", "update", "delete"
	GatewayID int64  `json:"gateway_id"`
	NetworkID int64  `json:"network_id"`
	URL       string `json:"url"`
}

// WatchGatewayChanges holds a dedicated connection LISTENing on
// gatewayChangesChannel and invokes onChange for every notification,
// until ctx is canceled. pgxpool exposes LISTEN/NOTIFY only through a
// single acquired connection, not the pool itself, since the
// subscription is connection-scoped state.
func (p *Pool) WatchGatewayChanges(ctx context.Context, onChange func(gateway.Notification)) error {
	conn, err := p.pg.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("db: acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+gatewayChangesChannel); err != nil {
		return fmt.Errorf("db: listen %s: %w", gatewayChangesChannel, err)
	}

	for {
		notif, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("db: wait for notification: %w", err)
		}

		var payload gatewayChangePayload
		if err := json.Unmarshal([]byte(notif.Payload), &payload); err != nil {
			continue // malformed payload: skip rather than abort the whole watcher
		}

		var kind gateway.NotificationKind
		switch payload.Kind {
		case "insert":
			kind = gateway.NotifyInsert
		case "update":
			kind = gateway.NotifyUpdate
		case "delete":
			kind = gateway.NotifyDelete
		default:
			continue
		}

		onChange(gateway.Notification{
			Kind:      kind,
			GatewayID: payload.GatewayID,
			NetworkID: payload.NetworkID,
			URL:       payload.URL,
		})
	}
}

// ListGateways returns every currently configured gateway, used to
// seed the supervisor with insert notifications at startup before the
// LISTEN loop begins observing subsequent changes.
func (p *Pool) ListGateways(ctx context.Context) ([]gateway.Notification, error) {
	rows, err := p.pg.Query(ctx, `SELECT id, network_id, url FROM gateways`)
	if err != nil {
		return nil, fmt.Errorf("db: list gateways: %w", err)
	}
	defer rows.Close()

	var out []gateway.Notification
	for rows.Next() {
		var n gateway.Notification
		n.Kind = gateway.NotifyInsert
		if err := rows.Scan(&n.GatewayID, &n.NetworkID, &n.URL); err != nil {
			return nil, fmt.Errorf("db: scan gateway row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
