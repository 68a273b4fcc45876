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

// olaf-client is an interactive terminal client for one home server
// (§4.4): it connects, prints inbound messages as they arrive, and
// reads outbound commands from stdin.
package main

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/olaf-neighbourhood/olaf/client"
	"github.com/olaf-neighbourhood/olaf/crypto"
	cryptoformats "github.com/olaf-neighbourhood/olaf/crypto/formats"
	"github.com/olaf-neighbourhood/olaf/internal/logger"
	"github.com/olaf-neighbourhood/olaf/pkg/version"
)

var (
	serverURL   string
	privKeyPath string
	pubKeyPath  string
	dialTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "olaf-client",
	Short: "olaf-client is an interactive chat client for a home server",
	RunE:  runChat,
}

func main() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVar(&serverURL, "server", "ws://127.0.0.1:8080/ws", "home server WebSocket URL")
	rootCmd.Flags().StringVar(&privKeyPath, "key", "client.key.pem", "path to this identity's private key")
	rootCmd.Flags().StringVar(&pubKeyPath, "pub", "client.pub.pem", "path to this identity's public key")
	rootCmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "WebSocket handshake timeout")
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print olaf-client's version",
	Run: func(cmd *cobra.Command, args []string) {
		version.PrintVersion()
	},
}

func runChat(cmd *cobra.Command, args []string) error {
	priv, err := cryptoformats.LoadOrCreatePrivateKey(privKeyPath, pubKeyPath, generateIdentity)
	if err != nil {
		return fmt.Errorf("load identity key: %w", err)
	}
	selfKey := crypto.NewKeyPair(priv)

	log := logger.NewLogger(os.Stderr, logger.WarnLevel)
	c := client.New(selfKey, log)

	ctx := cmd.Context()
	if err := c.Connect(ctx, serverURL, dialTimeout); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Printf("connected as %s (state: %s)\n", selfKey.Fingerprint(), c.State())
	fmt.Println(`commands: /users, /msg <fingerprint> <text>, /pub <text>, /quit`)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		_ = c.Close()
		os.Exit(0)
	}()

	go printIncoming(c)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatchCommand(c, selfKey.Fingerprint(), line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return c.Close()
}

func dispatchCommand(c *client.Client, selfFP, line string) error {
	switch {
	case line == "/quit":
		os.Exit(0)
		return nil

	case line == "/users":
		for _, fp := range c.ListUsers() {
			fmt.Println(fp)
		}
		return nil

	case strings.HasPrefix(line, "/pub "):
		return c.SendPublicChat(strings.TrimPrefix(line, "/pub "))

	case strings.HasPrefix(line, "/msg "):
		fields := strings.SplitN(strings.TrimPrefix(line, "/msg "), " ", 2)
		if len(fields) != 2 {
			return fmt.Errorf("usage: /msg <fingerprint> <text>")
		}
		fingerprint, text := fields[0], fields[1]
		pub, ok := c.PeerPublicKey(fingerprint)
		if !ok {
			return fmt.Errorf("unknown peer: %s", fingerprint)
		}
		return c.SendChat([]string{serverAddress()}, []*rsa.PublicKey{pub}, []string{selfFP, fingerprint}, text)

	default:
		return fmt.Errorf("unrecognized command: %s", line)
	}
}

func printIncoming(c *client.Client) {
	seen := 0
	for {
		time.Sleep(200 * time.Millisecond)
		if c.State() == client.Closed {
			return
		}
		msgs := c.Messages()
		for ; seen < len(msgs); seen++ {
			m := msgs[seen]
			kind := "public"
			if m.Private {
				kind = "private"
			}
			fmt.Printf("[%s] %s: %s\n", kind, m.Sender, m.Text)
		}
	}
}

func generateIdentity() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// serverAddress strips the ws:// scheme and path off serverURL, leaving
// the host:port this server advertises itself as in directory entries.
func serverAddress() string {
	addr := strings.TrimPrefix(strings.TrimPrefix(serverURL, "ws://"), "wss://")
	if i := strings.Index(addr, "/"); i >= 0 {
		addr = addr[:i]
	}
	return addr
}
