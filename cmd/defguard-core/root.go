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
	"flag"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/defguard/core/pkg/config"
)

var (
	opts           = config.NewOptions()
	configFileFlag string
)

var rootCmd = &cobra.Command{
	Use:           "defguard-core",
	Short:         "Defguard access-control plane: ACL compiler, directory sync, gateway fabric, and client MFA",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFileFlag != "" {
			if err := opts.LoadFile(configFileFlag); err != nil {
				return err
			}
		}
		return opts.Validate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFileFlag, "config", "c", "", "Path to a YAML config file")

	fl := flag.NewFlagSet("defguard-core", flag.ContinueOnError)
	opts.BindFlags(fl)
	rootCmd.PersistentFlags().AddGoFlagSet(fl)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch opts.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
}
