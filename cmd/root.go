// Package cmd contains the CLI wiring for the esmtpd server binary.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"esmtpd/server"

	"github.com/knadh/koanf"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	kposflag "github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "esmtpd",
	Short: "Pluggable SMTP receive server",
	Long:  "esmtpd is an embeddable SMTP/ESMTP receive server core: a protocol state machine plus pluggable storage, mailbox filtering and authentication.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		k := koanf.New(".")

		cfgPath := cmd.Flag("config").Value.String()
		if cfgPath != "" {
			if err := k.Load(kfile.Provider(cfgPath), kyaml.Parser()); err != nil {
				return fmt.Errorf("failed to load config file %s: %w", cfgPath, err)
			}
		} else {
		search:
			for _, dir := range getConfigSearchPaths() {
				for _, ext := range []string{"yaml", "yml", "json"} {
					configPath := fmt.Sprintf("%s/esmtpd.%s", dir, ext)
					if _, err := os.Stat(configPath); err == nil {
						if err := k.Load(kfile.Provider(configPath), kyaml.Parser()); err != nil {
							return fmt.Errorf("failed to load config file %s: %w", configPath, err)
						}
						break search
					}
				}
			}
		}

		if err := k.Load(kenv.Provider("ESMTPD_", "_", createEnvReplacer().Replace), nil); err != nil {
			return fmt.Errorf("failed to load env: %w", err)
		}
		if err := k.Load(kposflag.Provider(cmd.PersistentFlags(), ".", k), nil); err != nil {
			return fmt.Errorf("failed to load flags: %w", err)
		}

		listenSpecs := k.Strings("listen")
		if len(listenSpecs) == 0 {
			listenSpecs = []string{"0.0.0.0:2525"}
		}
		endpoints := make([]server.EndpointDefinition, 0, len(listenSpecs))
		for _, spec := range listenSpecs {
			def, err := parseEndpointSpec(spec)
			if err != nil {
				return fmt.Errorf("invalid --listen value %q: %w", spec, err)
			}
			endpoints = append(endpoints, def)
		}

		opts := &server.Options{
			ServerName:     k.String("server-name"),
			Endpoints:      endpoints,
			MaxMessageSize: k.Int64("max-message-size"),
			MaxRecipients:  k.Int("max-recipients"),
		}
		opts.EnsureDefaults()

		if authUser := k.String("auth-user"); authUser != "" {
			authenticator := server.NewDefaultAuthenticator()
			if err := authenticator.AddUser(authUser, k.String("auth-password")); err != nil {
				return fmt.Errorf("failed to register --auth-user: %w", err)
			}
			opts.UserAuthenticator = authenticator
		}
		if spoolDir := k.String("spool-dir"); spoolDir != "" {
			spoolStore, err := server.NewSpoolMessageStore(spoolDir)
			if err != nil {
				return fmt.Errorf("failed to open --spool-dir: %w", err)
			}
			opts.MessageStore = spoolStore
		} else if mailboxDir := k.String("mailbox-dir"); mailboxDir != "" {
			opts.MessageStore = server.NewDefaultMessageStore(mailboxDir)
		}

		srv, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return srv.Start(ctx)
	},
}

// parseEndpointSpec parses a "host:port" or "host:port:tls" --listen value
// into an EndpointDefinition. "tls" marks the endpoint as implicit TLS
// (SMTPS). The returned definition carries no ServerCertificate, so STARTTLS
// on a plaintext endpoint built here is not advertised and is answered 454.
func parseEndpointSpec(spec string) (server.EndpointDefinition, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return server.EndpointDefinition{}, fmt.Errorf("expected host:port or host:port:tls")
	}

	host := strings.Join(parts[:len(parts)-1], ":")
	portStr := parts[len(parts)-1]
	isSecure := false

	if len(parts) >= 3 && parts[len(parts)-1] == "tls" {
		isSecure = true
		portStr = parts[len(parts)-2]
		host = strings.Join(parts[:len(parts)-2], ":")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return server.EndpointDefinition{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	return server.EndpointDefinition{
		Address:  host,
		Port:     port,
		IsSecure: isSecure,
	}, nil
}

func createEnvReplacer() *strings.Replacer {
	return strings.NewReplacer("-", "_", ".", "_")
}

// getConfigSearchPaths returns the directories to search for config files,
// in order of precedence: current directory, $HOME/.esmtpd/, /etc/esmtpd/.
func getConfigSearchPaths() []string {
	paths := []string{"."}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, home+"/.esmtpd")
	}
	paths = append(paths, "/etc/esmtpd")
	return paths
}

// RegisterFlags registers persistent flags for the root command. This
// replaces an init() function to satisfy the linter rule against init
// usage and allows callers to control ordering.
func RegisterFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringSlice("listen", []string{"0.0.0.0:2525"}, "Endpoint to listen on, host:port or host:port:tls (repeatable)")
	pf.String("server-name", server.DefaultServerName, "Server name used in the EHLO greeting and generated TLS certificates")
	pf.String("mailbox-dir", "./mailbox", "Maildir directory to store accepted messages")
	pf.String("spool-dir", "", "Badger-backed spool directory to store accepted messages (takes precedence over --mailbox-dir)")
	pf.Int64("max-message-size", server.DefaultMaxMessageSize, "Maximum accepted DATA body size in bytes")
	pf.Int("max-recipients", server.DefaultMaxRecipients, "Maximum RCPT TO recipients tolerated per transaction before 452")
	pf.String("config", "", "Configuration file path")
	pf.String("auth-user", "", "Register a single AUTH PLAIN/LOGIN user at startup (testing convenience)")
	pf.String("auth-password", "", "Password for --auth-user")
}

// Execute sets the version and runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}
