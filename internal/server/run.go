// ABOUTME: Listener setup and run/shutdown lifecycle for the Bridge
// ABOUTME: Supports plain TCP and tsnet listeners for the public surface

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// Run starts both servers and blocks until the context is canceled or a
// listener fails. Returns nil on graceful shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	publicLn, internalLn, err := b.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := b.startServers(publicLn, internalLn)
	serverErr := b.waitForShutdownSignal(ctx, errCh)

	shutdownErr := b.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
// The internal listener is always plain TCP; detached stdio processes post
// change notifications to it over loopback.
func (b *Bridge) setupListeners(ctx context.Context) (publicLn, internalLn net.Listener, err error) {
	internalLn, err = net.Listen("tcp", b.config.Server.InternalAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on internal address: %w", err)
	}

	if b.config.Tailscale.Enabled {
		publicLn, err = b.setupTailscaleListener(ctx)
	} else {
		publicLn, err = net.Listen("tcp", b.config.Server.HTTPAddr)
		if err != nil {
			err = fmt.Errorf("listening on public address: %w", err)
		}
	}
	if err != nil {
		_ = internalLn.Close()
		return nil, nil, err
	}
	return publicLn, internalLn, nil
}

// startServers starts both HTTP servers in goroutines, returning an error channel.
func (b *Bridge) startServers(publicLn, internalLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		b.logger.Info("public server listening",
			"addr", publicLn.Addr().String(),
			"mcp_endpoint", b.MCPEndpoint(),
		)
		if err := b.publicSrv.Serve(publicLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server: %w", err)
		}
	}()

	go func() {
		b.logger.Info("internal server listening", "addr", internalLn.Addr().String())
		if err := b.internalSrv.Serve(internalLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("internal server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (b *Bridge) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		b.logger.Error("server error", "error", err)
		b.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (b *Bridge) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		b.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (b *Bridge) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the servers and releases component resources.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down bridge")

	// Closing the router and stream registry first unblocks the SSE
	// handlers, so the HTTP servers can drain within the window.
	b.router.Cleanup()
	b.streams.Cleanup()

	var errs []error
	errs = appendCloseError(errs, "public server shutdown", b.publicSrv.Shutdown(ctx))
	errs = appendCloseError(errs, "internal server shutdown", b.internalSrv.Shutdown(ctx))

	if b.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", b.tsnetServer.Close())
	}
	if b.mcpServer != nil {
		b.mcpServer.Close()
	}
	if b.limiter != nil {
		b.limiter.Close()
	}
	if b.ledger != nil {
		errs = appendCloseError(errs, "ledger close", b.ledger.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// resolveTailscaleStateDir returns the state directory, using a default under
// the user's home when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "formbridge", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and returns an HTTPS listener
// for the public surface using Tailscale's auto-provisioned certs.
func (b *Bridge) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	b.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	b.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := b.tsnetServer.Up(ctx)
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	b.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := b.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := b.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = b.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (b *Bridge) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		b.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	b.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}
