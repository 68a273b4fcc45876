// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// olafd runs a single home server: the WebSocket peer endpoint (§4.5),
// the outbound neighbourhood dial manager (§4.6), the file-transfer
// side channel (§4.7), and the ambient health/metrics surfaces.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/olaf-neighbourhood/olaf/config"
	"github.com/olaf-neighbourhood/olaf/crypto"
	cryptoformats "github.com/olaf-neighbourhood/olaf/crypto/formats"
	"github.com/olaf-neighbourhood/olaf/directory"
	"github.com/olaf-neighbourhood/olaf/fileserver"
	"github.com/olaf-neighbourhood/olaf/health"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/internal/metrics"
	"github.com/olaf-neighbourhood/olaf/neighbourhood"
	"github.com/olaf-neighbourhood/olaf/pkg/version"
	"github.com/olaf-neighbourhood/olaf/server"
	"github.com/olaf-neighbourhood/olaf/transport/ws"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "olafd",
	Short: "olafd runs a home server in an OLAF/Neighbourhood network",
	Long: `olafd accepts client and peer-server WebSocket connections, verifies
and routes signed envelopes between them, and gossips directory state
across the configured neighbourhood.`,
	RunE: runServe,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory containing environment config files")
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print olafd's version",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintVersion()
	},
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: configDir})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg.Logging)
	log.Info("starting olafd",
		logger.String("version", version.Short()),
		logger.String("environment", cfg.Environment),
		logger.String("address", cfg.Server.Address()),
	)

	priv, err := cryptoformats.LoadOrCreatePrivateKey(cfg.KeyStore.PrivateKeyPath, cfg.KeyStore.PublicKeyPath, generateIdentity)
	if err != nil {
		return fmt.Errorf("load identity key: %w", err)
	}
	selfKey := crypto.NewKeyPair(priv)
	log.Info("loaded identity", logger.String("fingerprint", selfKey.Fingerprint()))

	dir := directory.New(cfg.Server.Address())
	srv := server.New(cfg.Server.Address(), dir, cfg.Neighbourhood, log)

	nb := neighbourhood.New(cfg.Server.Address(), cfg.Neighbourhood, selfKey, cfg.Server.DialTimeout, srv.HandleSession, log)
	nb.Start(cmd.Context())
	defer nb.Stop()

	checker := health.NewHealthChecker(5 * time.Second)
	checker.SetLogger(log)
	checker.RegisterCheck("keystore", health.KeyStoreHealthCheck(func() error {
		_, statErr := os.Stat(cfg.KeyStore.PrivateKeyPath)
		return statErr
	}))
	checker.RegisterCheck("neighbourhood", health.NeighbourhoodHealthCheck(func() (int, int) {
		return srv.ConnectedNeighbours(), len(cfg.Neighbourhood)
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		sess, err := ws.Accept(w, r)
		if err != nil {
			log.Warn("websocket upgrade failed", logger.Error(err))
			return
		}
		sess.SetTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
		srv.HandleSession(sess)
	})

	files := fileserver.New(cfg.Files.UploadDir, cfg.Files.PublicBase, log)
	mux.Handle("/api/upload", files.Handler())
	mux.Handle("/downloads/", files.Handler())

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}
	if cfg.Health.Enabled {
		mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
			status := checker.GetOverallStatus(r.Context())
			if status != health.StatusHealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintf(w, `{"status":%q}`, status)
		})
	}

	httpSrv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", logger.String("address", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server error", logger.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown error", logger.Error(err))
	}

	return nil
}

func newLogger(cfg config.LoggingConfig) logger.Logger {
	l := logger.NewLogger(os.Stdout, parseLevel(cfg.Level))
	l.SetPrettyPrint(cfg.Format != "json")
	return l
}

func parseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

func generateIdentity() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}
