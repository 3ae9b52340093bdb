package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alnah/chunkscribe/internal/config"
	"github.com/alnah/chunkscribe/internal/lang"
)

// ConfigCmd creates the config command with subcommands.
// The env parameter provides injectable dependencies for testing.
func ConfigCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage persistent settings",
		Long: `Manage persistent settings.

Settings live in a key=value file under $XDG_CONFIG_HOME/chunkscribe
(default ~/.config/chunkscribe/config). Each key falls back to an
environment variable; flags override both.

` + keyTable(),
		Example: `  chunkscribe config set output-dir ~/Documents/transcripts
  chunkscribe config set chunk-seconds 300
  chunkscribe config get provider
  chunkscribe config unset model
  chunkscribe config list`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store a setting",
			Long:  "Store a setting. output-dir is created if missing and saved as an absolute path.",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return runConfigSet(env, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a setting",
			Long:  "Print the stored value, or its environment fallback. Prints nothing when unset.",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return runConfigGet(env, args[0])
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove a stored setting",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return runConfigUnset(env, args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print every setting, stored or from the environment",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runConfigList(env)
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				p, err := config.Path()
				if err != nil {
					return err
				}
				fmt.Fprintln(env.Stdout, p)
				return nil
			},
		},
	)
	return cmd
}

// keyTable lists the keys and their environment variables for help text.
func keyTable() string {
	var b strings.Builder
	b.WriteString("Keys:")
	for _, key := range config.Keys {
		fmt.Fprintf(&b, "\n  %-14s env %s", key, config.EnvVar(key))
	}
	return b.String()
}

func runConfigSet(env *Env, key, value string) error {
	if err := config.Validate(key, value); err != nil {
		return err
	}

	switch key {
	case config.KeyOutputDir:
		value = config.ExpandPath(value)
		if err := config.EnsureOutputDir(value); err != nil {
			return fmt.Errorf("invalid output-dir: %w", err)
		}
	case config.KeyLanguage:
		if err := lang.Validate(value); err != nil {
			return err
		}
	}

	if err := config.Save(key, value); err != nil {
		return err
	}
	fmt.Fprintf(env.Stderr, "Set %s = %s\n", key, value)
	return nil
}

func runConfigGet(env *Env, key string) error {
	if !isValidConfigKey(key) {
		return unknownKey(key)
	}
	value, err := config.Get(key)
	if err != nil {
		return err
	}
	if value == "" {
		value = env.Getenv(config.EnvVar(key))
	}
	if value != "" {
		fmt.Fprintln(env.Stdout, value)
	}
	return nil
}

func runConfigUnset(env *Env, key string) error {
	if !isValidConfigKey(key) {
		return unknownKey(key)
	}
	if err := config.Unset(key); err != nil {
		return err
	}
	fmt.Fprintf(env.Stderr, "Unset %s\n", key)
	if v := env.Getenv(config.EnvVar(key)); v != "" {
		fmt.Fprintf(env.Stderr, "Note: %s=%s still applies from the environment\n", config.EnvVar(key), v)
	}
	return nil
}

// runConfigList prints stored values, then environment fallbacks marked
// "(from env)", in config.Keys order.
func runConfigList(env *Env) error {
	stored, err := config.List()
	if err != nil {
		return err
	}

	printed := 0
	for _, key := range config.Keys {
		value, ok := stored[key]
		if !ok {
			if v := env.Getenv(config.EnvVar(key)); v != "" {
				value, ok = v+" (from env)", true
			}
		}
		if ok {
			fmt.Fprintf(env.Stdout, "%s=%s\n", key, value)
			printed++
		}
	}

	if printed == 0 {
		fmt.Fprintf(env.Stdout, "No configuration set.\n\nAvailable settings:\n")
		for _, key := range config.Keys {
			fmt.Fprintf(env.Stdout, "  %s\n", key)
		}
	}
	return nil
}

func isValidConfigKey(key string) bool {
	return slices.Contains(config.Keys, key)
}

func unknownKey(key string) error {
	return fmt.Errorf("%w: %q (valid keys: %s)", config.ErrUnknownKey, key, strings.Join(config.Keys, ", "))
}
