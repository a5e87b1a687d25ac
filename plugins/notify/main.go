// Package main provides the notify plugin. It raises emergency alerts as
// desktop notifications and webhook calls, and opens the voice channel.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action     string          `json:"action"`
	BlinkCount int             `json:"blink_count"`
	Config     json.RawMessage `json:"config"`
	Params     json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the per-action plugin configuration.
type Config struct {
	// WebhookURL receives a JSON POST for every emergency alert.
	WebhookURL string `json:"webhook_url"`
	// Message overrides the alert text.
	Message string `json:"message"`
	// VoiceURL is opened to start the voice channel.
	VoiceURL string `json:"voice_url"`
}

// commandRunner runs an external command.
type commandRunner func(name string, args ...string) error

type plugin struct {
	run  commandRunner
	http *http.Client
	goos string
}

// actionHandler defines a function type for handling specific actions.
type actionHandler func(p *plugin, req Request, cfg Config) error

// actionHandlers maps action names to their handler functions.
var actionHandlers = map[string]actionHandler{
	"emergency-alert": emergencyAlert,
	"voice-channel":   voiceChannel,
}

func main() {
	p := &plugin{
		run:  runCommand,
		http: &http.Client{Timeout: 3 * time.Second},
		goos: runtime.GOOS,
	}

	// Read request from stdin
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(os.Stdout, Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	writeResponse(os.Stdout, p.handle(req))
}

func (p *plugin) handle(req Request) Response {
	handler, ok := actionHandlers[req.Action]
	if !ok {
		return Response{Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return Response{Error: fmt.Sprintf("invalid config: %v", err)}
		}
	}

	if err := handler(p, req, cfg); err != nil {
		return Response{Error: fmt.Sprintf("action %s failed: %v", req.Action, err)}
	}
	return Response{Success: true}
}

func writeResponse(w io.Writer, resp Response) {
	json.NewEncoder(w).Encode(resp)
}

// runCommand executes a command and returns any error with its output.
func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// emergencyAlert shows a desktop notification and calls the webhook when
// one is configured. The webhook is the alert of record: its failure fails
// the action, a failed notification does not.
func emergencyAlert(p *plugin, req Request, cfg Config) error {
	msg := cfg.Message
	if msg == "" {
		msg = fmt.Sprintf("Emergency alert raised with %d blinks", req.BlinkCount)
	}

	notifyErr := p.notify("Emergency alert", msg)

	if cfg.WebhookURL == "" {
		return notifyErr
	}

	body, err := json.Marshal(map[string]any{
		"event":       "emergency-alert",
		"message":     msg,
		"blink_count": req.BlinkCount,
		"at":          time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	resp, err := p.http.Post(cfg.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// voiceChannel opens the configured voice URL.
func voiceChannel(p *plugin, req Request, cfg Config) error {
	if cfg.VoiceURL == "" {
		return fmt.Errorf("voice_url is not configured")
	}
	return p.open(cfg.VoiceURL)
}

func (p *plugin) notify(title, msg string) error {
	switch p.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q sound name \"Sosumi\"", msg, title)
		return p.run("osascript", "-e", script)
	case "windows":
		return p.run("msg", "*", title+": "+msg)
	default:
		return p.run("notify-send", "--urgency=critical", title, msg)
	}
}

func (p *plugin) open(url string) error {
	switch p.goos {
	case "darwin":
		return p.run("open", url)
	case "windows":
		return p.run("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return p.run("xdg-open", url)
	}
}
