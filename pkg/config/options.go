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

// Package config holds the process-wide settings snapshot (§5 "Settings
// cache"): a single immutable Options value loaded once at startup from
// flags/environment/file and handed to every component by reference.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DBOptions are the Postgres connection settings.
type DBOptions struct {
	Host     string `yaml:"host" json:"host"`
	Port     uint16 `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	MaxConns int32  `yaml:"max_conns" json:"max_conns"`
}

// NewDBOptions returns sensible defaults.
func NewDBOptions() *DBOptions {
	return &DBOptions{Host: "localhost", Port: 5432, Name: "defguard", User: "defguard", MaxConns: 10}
}

// BindFlags binds the DB options to fl.
func (o *DBOptions) BindFlags(fl *flag.FlagSet) {
	fl.StringVar(&o.Host, "db-host", o.Host, "Postgres host")
	fl.Func("db-port", "Postgres port", func(s string) error {
		var p uint16
		if _, err := fmt.Sscanf(s, "%d", &p); err != nil {
			return err
		}
		o.Port = p
		return nil
	})
	fl.StringVar(&o.Name, "db-name", o.Name, "Postgres database name")
	fl.StringVar(&o.User, "db-user", o.User, "Postgres user")
	fl.StringVar(&o.Password, "db-password", o.Password, "Postgres password")
}

// DSN renders the libpq connection string pgxpool expects.
func (o *DBOptions) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", o.User, o.Password, o.Host, o.Port, o.Name)
}

// LDAPOptions configure the directory-sync LDAP client (§4.6).
type LDAPOptions struct {
	URL              string        `yaml:"url" json:"url"`
	BindDN           string        `yaml:"bind_dn" json:"bind_dn"`
	BindPassword     string        `yaml:"bind_password" json:"bind_password"`
	BaseDN           string        `yaml:"base_dn" json:"base_dn"`
	UseStartTLS      bool          `yaml:"use_starttls" json:"use_starttls"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	SyncInterval     time.Duration `yaml:"sync_interval" json:"sync_interval"`
	UsingUsernameRDN bool          `yaml:"using_username_as_rdn" json:"using_username_as_rdn"`
}

// NewLDAPOptions returns sensible defaults.
func NewLDAPOptions() *LDAPOptions {
	return &LDAPOptions{ConnectTimeout: 10 * time.Second, SyncInterval: 5 * time.Minute}
}

// BindFlags binds the LDAP options to fl.
func (o *LDAPOptions) BindFlags(fl *flag.FlagSet) {
	fl.StringVar(&o.URL, "ldap-url", o.URL, "LDAP server URL, e.g. ldaps://dc.example.com:636")
	fl.StringVar(&o.BindDN, "ldap-bind-dn", o.BindDN, "LDAP bind DN")
	fl.StringVar(&o.BindPassword, "ldap-bind-password", o.BindPassword, "LDAP bind password")
	fl.StringVar(&o.BaseDN, "ldap-base-dn", o.BaseDN, "LDAP search base DN")
	fl.BoolVar(&o.UseStartTLS, "ldap-starttls", o.UseStartTLS, "Use StartTLS instead of implicit TLS")
	fl.DurationVar(&o.ConnectTimeout, "ldap-connect-timeout", o.ConnectTimeout, "LDAP dial/bind timeout")
	fl.DurationVar(&o.SyncInterval, "ldap-sync-interval", o.SyncInterval, "Interval between full LDAP reconciliations")
	fl.BoolVar(&o.UsingUsernameRDN, "ldap-using-username-as-rdn", o.UsingUsernameRDN, "Treat username (not cn) as the RDN attribute")
}

// GatewayOptions configure the gRPC fabric to gateways (§4.7).
type GatewayOptions struct {
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
	GRPCPort    uint16 `yaml:"grpc_port" json:"grpc_port"`
}

// NewGatewayOptions returns sensible defaults.
func NewGatewayOptions() *GatewayOptions {
	return &GatewayOptions{GRPCPort: 50055}
}

// BindFlags binds the gateway options to fl.
func (o *GatewayOptions) BindFlags(fl *flag.FlagSet) {
	fl.StringVar(&o.TLSCertFile, "gateway-tls-cert-file", o.TLSCertFile, "TLS certificate served to gateways")
	fl.StringVar(&o.TLSKeyFile, "gateway-tls-key-file", o.TLSKeyFile, "TLS key served to gateways")
	fl.Func("gateway-grpc-port", "gRPC port gateways dial", func(s string) error {
		var p uint16
		if _, err := fmt.Sscanf(s, "%d", &p); err != nil {
			return err
		}
		o.GRPCPort = p
		return nil
	})
}

// MFAOptions configure the client MFA session machine (§4.8).
type MFAOptions struct {
	CodeTimeoutSeconds int64 `yaml:"code_timeout_seconds" json:"code_timeout_seconds"`
	JWTSigningKey      string `yaml:"jwt_signing_key" json:"jwt_signing_key"`
}

// NewMFAOptions returns sensible defaults.
func NewMFAOptions() *MFAOptions {
	return &MFAOptions{CodeTimeoutSeconds: 30}
}

// BindFlags binds the MFA options to fl.
func (o *MFAOptions) BindFlags(fl *flag.FlagSet) {
	fl.Func("mfa-code-timeout-seconds", "Email MFA code validity window in seconds", func(s string) error {
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
			return err
		}
		o.CodeTimeoutSeconds = n
		return nil
	})
	fl.StringVar(&o.JWTSigningKey, "mfa-jwt-signing-key", o.JWTSigningKey, "HMAC key signing desktop-client MFA session tokens")
}

// LogOptions configure structured logging.
type LogOptions struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// NewLogOptions returns sensible defaults.
func NewLogOptions() *LogOptions {
	return &LogOptions{Level: "info"}
}

// BindFlags binds the log options to fl.
func (o *LogOptions) BindFlags(fl *flag.FlagSet) {
	fl.StringVar(&o.Level, "log-level", o.Level, "Log level (debug, info, warn, error)")
	fl.BoolVar(&o.JSON, "log-json", o.JSON, "Emit logs as JSON instead of text")
}

// Options is the top-level, process-wide settings snapshot.
type Options struct {
	DB      *DBOptions      `yaml:"db,omitempty" json:"db,omitempty"`
	LDAP    *LDAPOptions    `yaml:"ldap,omitempty" json:"ldap,omitempty"`
	Gateway *GatewayOptions `yaml:"gateway,omitempty" json:"gateway,omitempty"`
	MFA     *MFAOptions     `yaml:"mfa,omitempty" json:"mfa,omitempty"`
	Log     *LogOptions     `yaml:"log,omitempty" json:"log,omitempty"`
}

// NewOptions returns Options populated with every section's defaults.
func NewOptions() *Options {
	return &Options{
		DB:      NewDBOptions(),
		LDAP:    NewLDAPOptions(),
		Gateway: NewGatewayOptions(),
		MFA:     NewMFAOptions(),
		Log:     NewLogOptions(),
	}
}

// BindFlags binds every section's flags to fl.
func (o *Options) BindFlags(fl *flag.FlagSet) {
	o.DB.BindFlags(fl)
	o.LDAP.BindFlags(fl)
	o.Gateway.BindFlags(fl)
	o.MFA.BindFlags(fl)
	o.Log.BindFlags(fl)
}

// Validate fills in any nil section with its defaults, matching the
// teacher's options.Validate() convention of tolerating a partially
// populated struct loaded from YAML.
func (o *Options) Validate() error {
	if o.DB == nil {
		o.DB = NewDBOptions()
	}
	if o.LDAP == nil {
		o.LDAP = NewLDAPOptions()
	}
	if o.Gateway == nil {
		o.Gateway = NewGatewayOptions()
	}
	if o.MFA == nil {
		o.MFA = NewMFAOptions()
	}
	if o.Log == nil {
		o.Log = NewLogOptions()
	}
	if o.DB.Name == "" {
		return fmt.Errorf("config: db.name must not be empty")
	}
	return nil
}

// LoadFile reads and merges a YAML config file into o.
func (o *Options) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
