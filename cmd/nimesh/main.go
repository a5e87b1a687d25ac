package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/ayusman/nimesh/internal/action"
	"github.com/ayusman/nimesh/internal/app"
	"github.com/ayusman/nimesh/internal/capture"
	"github.com/ayusman/nimesh/internal/config"
	"github.com/ayusman/nimesh/internal/plugin"
	"github.com/ayusman/nimesh/internal/server"
	"github.com/ayusman/nimesh/internal/store"
	"github.com/ayusman/nimesh/internal/tray"
)

// NotifyPlugin is the bundled plugin that handles alerts and the voice channel.
const NotifyPlugin = "notify"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nimesh: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nimesh: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("nimesh exited with error", zap.Error(err))
	}
	logger.Info("nimesh exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	if n, err := st.Mappings().Seed(action.DefaultMapping()); err != nil {
		return fmt.Errorf("seed mappings: %w", err)
	} else if n > 0 {
		logger.Info("seeded default mappings", zap.Int("count", n))
	}

	detection, err := st.Settings().DetectionConfig(cfg.Detection)
	if errors.Is(err, store.ErrInvalidSettings) {
		logger.Warn("stored detection settings ignored, using defaults", zap.Error(err))
	} else if err != nil {
		return fmt.Errorf("load detection settings: %w", err)
	}

	plugins := plugin.NewManager(cfg.PluginDir, logger.Named("plugin"))
	if err := plugins.Discover(); err != nil {
		logger.Warn("plugin discovery failed", zap.Error(err))
	}
	for _, p := range plugins.List() {
		logger.Info("plugin loaded", zap.String("name", p.Manifest.Name), zap.Strings("actions", p.Manifest.Actions))
	}
	executor := plugin.NewExecutor(cfg.PluginTimeout)

	var publisher action.Publisher
	if cfg.MQTTEnabled() {
		client, err := action.NewMQTTClient(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Warn("mqtt broker unavailable, appliance actions disabled", zap.Error(err))
		} else {
			defer client.Disconnect(250)
			publisher = client
		}
	} else {
		logger.Info("MQTT_BROKER not set, appliance actions disabled")
	}

	effects, err := buildEffects(cfg, publisher, plugins, executor)
	if err != nil {
		return err
	}

	a := app.New(app.Config{
		Detection: detection,
		Effects:   effects,
		Mappings:  st.Mappings(),
		History:   st.Events(),
		Logger:    logger,
	})
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub(logger.Named("feed"))
	go hub.Run(ctx)

	stream := server.NewStreamHandler(logger.Named("stream"))
	ctrl := app.NewController(a, func() capture.Camera {
		return capture.NewCamera(capture.Config{DeviceID: cfg.CameraID})
	}, stream)

	var tr *tray.Tray
	if cfg.Tray {
		tr = tray.New(false)
		tr.OnToggle(ctrl.Toggle)
		tr.OnOpenDashboard(func() { openBrowser(dashboardURL(cfg.HTTPAddr), logger) })
		tr.OnQuit(cancel)
		ctrl.OnStateChange(tr.SetRunning)
	}

	a.OnBlink(hub)
	a.OnGesture(hub)
	a.OnAction(app.ActionHandlerFunc(func(e app.ActionEvent) {
		hub.HandleAction(e)
		if tr != nil {
			tr.HandleAction(e)
		}
	}))

	srv := server.New(server.Config{
		StaticDir: cfg.StaticDir,
		Store:     st,
		Detection: ctrl,
		Tuner:     a,
		Hub:       hub,
		Stream:    stream,
		Logger:    logger.Named("http"),
	})

	if cfg.Autostart {
		if err := ctrl.Start(); err != nil {
			logger.Warn("detection did not start, start it from the dashboard", zap.Error(err))
		}
	}

	// Wait for interrupt signal to gracefully shutdown the server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info("shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		err := srv.Run(ctx, cfg.HTTPAddr)
		cancel()
		errCh <- err
	}()

	if tr != nil {
		// The tray must own the main goroutine.
		go func() {
			<-ctx.Done()
			tr.Quit()
		}()
		tr.Run()
		cancel()
	}

	return <-errCh
}

// buildEffects wires every action to its effect. Appliance actions need an
// MQTT publisher; without one they stay unmapped to an effect and are
// recorded as no-ops.
func buildEffects(cfg *config.Config, pub action.Publisher, plugins action.PluginResolver, runner action.PluginRunner) (map[action.ID]action.Effect, error) {
	alertConfig, err := json.Marshal(map[string]string{"webhook_url": cfg.AlertWebhook})
	if err != nil {
		return nil, err
	}
	voiceConfig, err := json.Marshal(map[string]string{"voice_url": cfg.VoiceURL})
	if err != nil {
		return nil, err
	}

	alert := action.Effect(action.NewPluginEffect(plugins, runner, NotifyPlugin, string(action.EmergencyAlert), alertConfig))
	effects := map[action.ID]action.Effect{
		action.VoiceChannel: action.NewPluginEffect(plugins, runner, NotifyPlugin, string(action.VoiceChannel), voiceConfig),
	}

	if pub != nil {
		prefix, qos := cfg.MQTT.TopicPrefix, cfg.MQTT.QoS
		effects[action.ToggleLight] = action.NewApplianceEffect(pub, prefix, "light", qos)
		effects[action.ToggleFan] = action.NewApplianceEffect(pub, prefix, "fan", qos)
		alert = action.Chain(alert, action.NewApplianceEffect(pub, prefix, "alarm", qos))
	}
	effects[action.EmergencyAlert] = alert

	return effects, nil
}

func dashboardURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string, logger *zap.Logger) {
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
		logger.Warn("opening dashboard", zap.String("url", url), zap.Error(err))
		return
	}
	go cmd.Wait()
}
