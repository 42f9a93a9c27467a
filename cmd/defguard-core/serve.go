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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gctx "github.com/defguard/core/pkg/context"
	"github.com/defguard/core/pkg/db"
	"github.com/defguard/core/pkg/gateway"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the access-control plane: ACL store schema and gateway RPC fabric (directory and LDAP sync are not started)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	log := newLogger()
	ctx = gctx.WithLogger(ctx, log)

	pool, err := db.Open(ctx, opts.DB.DSN(), opts.DB.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	aclStore := db.NewAclStore(pool)
	if err := aclStore.EnsureSchema(ctx); err != nil {
		return err
	}
	log.Info("acl schema ready")

	ca, err := gateway.NewLocalCertAuthority(nil, nil)
	if err != nil {
		return err
	}

	bc := gateway.NewBroadcaster()
	supervisor := gateway.NewSupervisor(
		&gateway.GRPCDialer{},
		gateway.NewHTTPProber(),
		gateway.NewHTTPSetupClient(),
		ca,
		bc,
		nil, // no DisconnectNotifier: peer disconnects are tracked but not reported
		func(networkID int64) time.Duration { return 3 * time.Minute },
		log,
	)
	defer supervisor.Shutdown()

	seed, err := pool.ListGateways(ctx)
	if err != nil {
		return err
	}
	for _, n := range seed {
		supervisor.Handle(ctx, n)
	}
	log.Info("gateway supervisor seeded", "count", len(seed))

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		if err := pool.WatchGatewayChanges(watchCtx, func(n gateway.Notification) {
			supervisor.Handle(watchCtx, n)
		}); err != nil {
			log.Error("gateway change watcher stopped", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	log.Info("shutting down")
	return nil
}
