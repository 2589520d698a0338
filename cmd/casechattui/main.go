package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/matheus3301/casechat/internal/auth"
	"github.com/matheus3301/casechat/internal/client"
	"github.com/matheus3301/casechat/internal/config"
	"github.com/matheus3301/casechat/internal/instance"
	"github.com/matheus3301/casechat/internal/logging"
	"github.com/matheus3301/casechat/internal/tui"
)

func main() {
	instanceFlag := pflag.StringP("instance", "i", "", "instance name (overrides config default)")
	urlFlag := pflag.String("url", "", "gateway base URL (default http://<listen_addr>)")
	tokenFlag := pflag.String("token", "", "access token (default $CASECHAT_TOKEN)")
	noStart := pflag.Bool("no-start", false, "do not start a local daemon when the gateway is down")
	pflag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fatalf("error: %v", err)
	}

	cfg, err := config.LoadOrDefault(instance.ConfigPath())
	if err != nil {
		fatalf("error: %v", err)
	}

	token := *tokenFlag
	if token == "" {
		token = os.Getenv("CASECHAT_TOKEN")
	}
	if token == "" {
		fatalf("error: no token; pass --token or set CASECHAT_TOKEN (casechatctl token <user>)")
	}
	id, err := auth.Peek(token)
	if err != nil {
		fatalf("error: %v", err)
	}

	baseURL := strings.TrimRight(*urlFlag, "/")
	local := baseURL == ""
	if local {
		baseURL = "http://" + cfg.ListenAddr
	}

	// Probe the gateway; auto-start a local daemon if needed.
	if !probeGateway(baseURL) {
		if !local || *noStart {
			fatalf("gateway %s is not reachable", baseURL)
		}
		fmt.Fprintf(os.Stderr, "daemon not running for instance %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fatalf("failed to start daemon: %v", err)
		}
		if !waitForGateway(baseURL, 10*time.Second) {
			fatalf("daemon did not become ready")
		}
	}

	logger, err := logging.NewFileOnly(filepath.Join(instance.LogDir(name), "tui.log"), "tui")
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	transport, err := client.NewTransport(baseURL, token, logger)
	if err != nil {
		fatalf("error: %v", err)
	}

	app := tui.NewApp(tui.Config{
		Instance:       name,
		Identity:       id,
		API:            client.NewAPI(baseURL, token),
		Transport:      transport,
		Logger:         logger,
		TypingDebounce: cfg.TypingDebounce.Duration,
		TypingTTL:      cfg.TypingTTL.Duration,
	})
	if err := app.Run(); err != nil {
		fatalf("error: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// probeGateway checks that the gateway answers its health endpoint.
func probeGateway(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "casechatd")

	if _, err := os.Stat(daemon); err != nil {
		daemon = "casechatd"
	}

	cmd := exec.Command(daemon, "--instance", name)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForGateway polls the health endpoint until it answers or timeout.
func waitForGateway(baseURL string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeGateway(baseURL) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
