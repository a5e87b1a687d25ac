package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayusman/nimesh/internal/plugin"
)

// PluginResolver finds a plugin that handles an action. *plugin.Manager satisfies it.
type PluginResolver interface {
	Resolve(name, action string) (*plugin.Plugin, error)
}

// PluginRunner executes a plugin. *plugin.Executor satisfies it.
type PluginRunner interface {
	Execute(ctx context.Context, p *plugin.Plugin, req *plugin.Request) (*plugin.Response, error)
}

// PluginEffect runs one action of an external plugin.
type PluginEffect struct {
	resolver PluginResolver
	runner   PluginRunner
	name     string
	action   string
	config   json.RawMessage
}

// NewPluginEffect creates an effect that runs action on the named plugin.
// The plugin is resolved on every run so a rediscovery takes effect.
func NewPluginEffect(resolver PluginResolver, runner PluginRunner, name, action string, config json.RawMessage) *PluginEffect {
	return &PluginEffect{
		resolver: resolver,
		runner:   runner,
		name:     name,
		action:   action,
		config:   config,
	}
}

// Execute runs the plugin and fails if it reports an unsuccessful response.
func (e *PluginEffect) Execute(ctx context.Context, req Request) error {
	p, err := e.resolver.Resolve(e.name, e.action)
	if err != nil {
		return fmt.Errorf("resolve plugin: %w", err)
	}

	resp, err := e.runner.Execute(ctx, p, &plugin.Request{
		Action:     e.action,
		BlinkCount: req.BlinkCount,
		Config:     e.config,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("plugin %s %s: %s", e.name, e.action, resp.Error)
	}
	return nil
}
