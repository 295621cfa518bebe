package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dkoval/netpatch/pkg/api"
)

var (
	serveAddr      string
	serveHTTPSAddr string
	serveTLS       bool
	serveAPIKeys   []string
	serveUsers     []string
)

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", ":8340", "HTTP listen address")
	f.StringVar(&serveHTTPSAddr, "https-addr", "", "HTTPS listen address (empty = no HTTPS)")
	f.BoolVar(&serveTLS, "tls", false, "Serve HTTPS with a self-signed certificate")
	f.StringSliceVar(&serveAPIKeys, "api-key", nil, "Accepted API key (repeatable)")
	f.StringSliceVar(&serveUsers, "auth-user", nil, "Basic auth credential as user:password (repeatable)")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, log, err := buildService()
		if err != nil {
			return err
		}
		defer log.Sync()

		cfg := api.Config{
			Addr:      serveAddr,
			HTTPSAddr: serveHTTPSAddr,
			TLS:       serveTLS,
			Service:   svc,
			Log:       log,
		}
		if auth := buildAuth(); auth != nil {
			cfg.Auth = auth
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return api.NewServer(cfg).Run(ctx)
	},
}

func buildAuth() *api.AuthConfig {
	if len(serveAPIKeys) == 0 && len(serveUsers) == 0 {
		return nil
	}
	auth := &api.AuthConfig{
		Users:   make(map[string]string),
		APIKeys: make(map[string]bool),
	}
	for _, key := range serveAPIKeys {
		auth.APIKeys[key] = true
	}
	for _, cred := range serveUsers {
		user, pass, ok := strings.Cut(cred, ":")
		if ok {
			auth.Users[user] = pass
		}
	}
	return auth
}
