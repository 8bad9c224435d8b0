package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayusman/pointerlink/internal/config"
	"github.com/ayusman/pointerlink/internal/emitter"
	"github.com/ayusman/pointerlink/internal/log"
	"github.com/ayusman/pointerlink/internal/server"
	"github.com/ayusman/pointerlink/internal/tray"
)

var (
	runWindow   string
	runBackend  string
	runPorts    []string
	runHTTP     string
	runNoTray   bool
	runDisabled bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture, detect and actuate until stopped",
	Long: `Run starts the capture-detect-actuate pipeline.

The first serial port that answers the handshake is used. Ctrl+C, the tray's
Quit item or a fatal link error stops the pipeline.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVarP(&runWindow, "window", "w", "", "window title or process name to capture (default: whole screen)")
	runCmd.Flags().StringVarP(&runBackend, "backend", "b", "", "detector backend: hog, yolo, pose, mock")
	runCmd.Flags().StringArrayVarP(&runPorts, "port", "p", nil, "serial port to try (repeatable, default: all)")
	runCmd.Flags().StringVar(&runHTTP, "http", "", "serve status and telemetry on this address, e.g. :8080")
	runCmd.Flags().BoolVar(&runNoTray, "no-tray", false, "run without the system tray")
	runCmd.Flags().BoolVar(&runDisabled, "disabled", false, "start with actuation paused")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays command-line flags on the loaded config.
func applyRunFlags(c *config.Config) error {
	if runWindow != "" {
		c.Capture.Window = runWindow
	}
	if runBackend != "" {
		c.Detector.Backend = runBackend
	}
	if len(runPorts) > 0 {
		c.Link.Ports = runPorts
	}
	if runHTTP != "" {
		c.HTTP.Addr = runHTTP
	}
	if runDisabled {
		c.Pipeline.StartDisabled = true
	}
	return config.Validate(c)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	if err := applyRunFlags(cfg); err != nil {
		return err
	}

	a, st, err := buildApp(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var telemetry *server.Telemetry
	if cfg.HTTP.Addr != "" {
		telemetry = server.NewTelemetry()
		a.AddObserver(telemetry)
	}

	if cfg.MQTT.Broker != "" {
		em := emitter.NewMQTTEmitter(emitter.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		})
		// The broker is optional; the pipeline runs without it.
		if err := em.Connect(ctx); err != nil {
			log.Warn("mqtt disabled", "err", err)
		} else {
			defer em.Disconnect()
			a.AddObserver(em)
		}
	}

	var tr *tray.Tray
	if !runNoTray {
		tr = tray.New(!cfg.Pipeline.StartDisabled)
		tr.OnToggle(a.SetEnabled)
		tr.OnQuit(cancel)
		if cfg.HTTP.Addr != "" {
			url := statusURL(cfg.HTTP.Addr)
			tr.OnStatus(func() { openBrowser(url) })
		}
		a.AddObserver(tr)
	}

	srvErr := make(chan error, 1)
	if cfg.HTTP.Addr != "" {
		srv := server.New(server.Config{
			StaticDir: findWebDir(),
			Store:     st,
			Status:    a,
			Telemetry: telemetry,
		})
		go func() { srvErr <- srv.ListenAndServe(ctx, cfg.HTTP.Addr) }()
	}

	if err := a.Start(ctx); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				a.Stop()
				return
			case err := <-srvErr:
				// A dead status server does not stop actuation.
				if err != nil {
					log.Error("http server failed", "err", err)
				}
			case <-a.Done():
				return
			}
		}
	}()

	if tr != nil {
		go func() {
			<-a.Done()
			tr.Quit()
		}()
		// The tray owns the main goroutine until the pipeline has stopped.
		tr.Run()
	}

	runErr := a.Wait()
	cancel()
	if runErr != nil {
		return fmt.Errorf("pipeline stopped: %w", runErr)
	}

	s := a.Stats()
	fmt.Fprintf(os.Stderr, "run %s: %d cycles, %d commands, %d skipped\n",
		a.RunID(), s.Cycles, s.Commands, s.Skipped)
	return nil
}

func statusURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn("failed to open browser", "url", url, "err", err)
	}
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.pointerlink/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".pointerlink", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
