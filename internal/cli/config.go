package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/config"
)

const redacted = "<redacted>"

// ConfigOptions holds flags for the config command.
type ConfigOptions struct {
	*RootOptions
	Init bool
}

// ConfigView is the effective configuration as printed by the config
// command. Settings mirrors the YAML layout.
type ConfigView struct {
	UserConfig string         `json:"userConfig"`
	Settings   map[string]any `json:"settings"`
	rendered   []byte
}

// RenderText implements TextRenderer.
func (v ConfigView) RenderText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "# user config: %s\n", v.UserConfig); err != nil {
		return err
	}
	_, err := w.Write(v.rendered)
	return err
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConfigOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Resolve and validate the layered configuration and print it.

Layers, lowest first: built-in defaults, the user config, the nearest
replica.yaml above the working directory, --config, then REPLICA_TOKEN.
The token is never printed.

Example:
  replica config
  replica config --init`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Init, "init", false, "write a default user config if none exists")

	return cmd
}

func runConfig(opts *ConfigOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())
	loader := config.NewLoader(logger, opts.loaderOpts...)

	if opts.Init {
		path, err := loader.EnsureUserConfig()
		if err != nil {
			_ = out.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write user config", err)
		}
		logger.Debug("user config ready", "path", path)
	}

	cfg, err := opts.loadConfig(logger)
	if err != nil {
		details := map[string]string{}
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			details["field"] = verr.Field
		}
		_ = out.Error(ErrCodeConfig, err.Error(), details)
		return err
	}

	view, err := newConfigView(cfg, loader.UserConfigPath())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to render config", err)
	}
	return out.Success(view)
}

func newConfigView(cfg *config.Config, userPath string) (ConfigView, error) {
	shown := *cfg
	if shown.Server.Token != "" {
		shown.Server.Token = redacted
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return ConfigView{}, err
	}
	var settings map[string]any
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return ConfigView{}, err
	}
	return ConfigView{UserConfig: userPath, Settings: settings, rendered: data}, nil
}
