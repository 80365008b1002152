package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/rancher/auto-rebase/internal/app"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and change saved settings",
		Long: `Show and change saved settings.

Settings are read from the global file, then .auto-rebase.yaml at the root
of the worktree, then AUTO_REBASE_* environment variables, then flags.

Examples:
  auto-rebase config show
  auto-rebase config set onConflict skip
  auto-rebase config set --local linear true
  auto-rebase config edit
  auto-rebase config reset --yes`,
		Args: cobra.NoArgs,
	}

	cmd.AddCommand(c.configShowCmd())
	cmd.AddCommand(c.configSetCmd())
	cmd.AddCommand(c.configEditCmd())
	cmd.AddCommand(c.configResetCmd())
	return cmd
}

func (c *cli) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved settings and where each one came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, f := range c.loaded.Files {
				writeLine(out, "# loaded %s", f)
			}
			rendered, err := app.RenderConfig(c.loaded)
			if err != nil {
				return err
			}
			fmt.Fprint(out, rendered)
			return nil
		},
	}
}

func (c *cli) configSetCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:         "set [key [value]]",
		Annotations: map[string]string{repairsConfig: "true"},
		Short:       "Save a setting, prompting for anything not given",
		Args:        cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := c.settingsPath(local)
			if err != nil {
				return err
			}
			if len(args) < 2 && !c.canPrompt() {
				return fmt.Errorf("config set needs <key> <value> when stdin is not a terminal")
			}

			var key app.Key
			if len(args) > 0 {
				k, ok := app.LookupKey(args[0])
				if !ok {
					return fmt.Errorf("unknown configuration key %q", args[0])
				}
				key = k
			} else {
				key, err = c.askKey()
				if err != nil {
					return err
				}
			}

			var value any
			if len(args) == 2 {
				value, err = key.ParseValue(args[1])
			} else {
				value, err = c.askValue(key)
			}
			if err != nil {
				return err
			}

			settings, err := app.ReadSettings(path)
			if err != nil {
				return err
			}
			settings.Set(key, value)
			if err := app.WriteSettings(path, settings); err != nil {
				return err
			}

			shown := value
			if key.Secret {
				shown = "********"
			}
			writeLine(cmd.OutOrStdout(), "Set %s to %v in %s", key.Name, shown, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Write the worktree's .auto-rebase.yaml instead of the global file")
	return cmd
}

func (c *cli) configEditCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:         "edit",
		Annotations: map[string]string{repairsConfig: "true"},
		Short:       "Open the settings file in $EDITOR",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.settingsPath(local)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := app.WriteSettings(path, app.Settings{}); err != nil {
					return err
				}
			}

			editor := strings.Fields(editorCommand())
			edit := exec.CommandContext(cmd.Context(), editor[0], append(editor[1:], path)...)
			edit.Stdin = cmd.InOrStdin()
			edit.Stdout = cmd.OutOrStdout()
			edit.Stderr = cmd.ErrOrStderr()
			if err := edit.Run(); err != nil {
				return fmt.Errorf("run %s: %w", editor[0], err)
			}

			check := app.LoadOptions{}
			if c.repo != nil {
				check.LocalDir = c.repo.Dir
			}
			if _, err := app.LoadConfig(check); err != nil {
				return fmt.Errorf("%s is invalid: %w", path, err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Edit the worktree's .auto-rebase.yaml instead of the global file")
	return cmd
}

func (c *cli) configResetCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:         "reset",
		Annotations: map[string]string{repairsConfig: "true"},
		Short:       "Delete the settings file",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.settingsPath(local)
			if err != nil {
				return err
			}

			if !c.loaded.Config.Yes {
				if !c.canPrompt() {
					return fmt.Errorf("refusing to delete %s without --yes", path)
				}
				ok, err := c.confirm(fmt.Sprintf("Delete %s?", path), false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			if err := app.ResetSettings(path); err != nil {
				return err
			}
			writeLine(cmd.OutOrStdout(), "Removed %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Delete the worktree's .auto-rebase.yaml instead of the global file")
	return cmd
}

func (c *cli) settingsPath(local bool) (string, error) {
	if !local {
		return app.GlobalConfigPath()
	}
	repo, err := c.requireRepo()
	if err != nil {
		return "", err
	}
	return app.LocalConfigPath(repo.Dir), nil
}

func (c *cli) askKey() (app.Key, error) {
	options := make([]string, 0, len(app.Keys))
	for _, k := range app.Keys {
		if k.Name == "schemaVersion" {
			continue
		}
		options = append(options, k.Name)
	}

	var name string
	prompt := &survey.Select{
		Message:  "Setting:",
		Options:  options,
		PageSize: 12,
		Description: func(value string, _ int) string {
			k, _ := app.LookupKey(value)
			return k.Usage
		},
	}
	if err := survey.AskOne(prompt, &name); err != nil {
		return app.Key{}, promptError(err)
	}
	k, _ := app.LookupKey(name)
	return k, nil
}

func (c *cli) askValue(key app.Key) (any, error) {
	current := fmt.Sprint(c.loaded.Config.Value(key.Name))
	message := key.Name + ":"

	var (
		raw string
		err error
	)
	switch {
	case key.Kind == app.BoolKey:
		v := current == "true"
		err = survey.AskOne(&survey.Confirm{Message: message, Default: v, Help: key.Usage}, &v)
		raw = fmt.Sprint(v)
	case len(key.Choices) > 0:
		prompt := &survey.Select{Message: message, Options: key.Choices, Help: key.Usage}
		if slices.Contains(key.Choices, current) {
			prompt.Default = current
		}
		err = survey.AskOne(prompt, &raw)
	case key.Secret:
		err = survey.AskOne(&survey.Password{Message: message, Help: key.Usage}, &raw)
	default:
		err = survey.AskOne(&survey.Input{Message: message, Default: current, Help: key.Usage}, &raw)
	}
	if err != nil {
		return nil, promptError(err)
	}
	return key.ParseValue(raw)
}

func promptError(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return fmt.Errorf("cancelled")
	}
	return err
}

func editorCommand() string {
	for _, name := range []string{"VISUAL", "EDITOR"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return "vi"
}
