package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rancher/auto-rebase/internal/rebase"
)

const (
	// SchemaVersion is written into every config file this build saves.
	SchemaVersion = 1

	envPrefix     = "AUTO_REBASE_"
	localFileName = ".auto-rebase.yaml"
	appDirName    = "auto-rebase"
	globalFile    = "config.yaml"
)

// Config captures the persistent options of a run after all layers are merged.
type Config struct {
	AllowEmpty         bool   `mapstructure:"allowEmpty"`
	Linear             bool   `mapstructure:"linear"`
	ContinueOnConflict bool   `mapstructure:"continueOnConflict"`
	RemoteTarget       bool   `mapstructure:"remoteTarget"`
	OnConflict         string `mapstructure:"onConflict"`
	DryRun             bool   `mapstructure:"dryRun"`
	Yes                bool   `mapstructure:"yes"`
	Autostash          bool   `mapstructure:"autostash"`
	PushWithLease      bool   `mapstructure:"pushWithLease"`
	NoBackup           bool   `mapstructure:"noBackup"`
	RetargetPR         bool   `mapstructure:"retargetPR"`
	LogLevel           string `mapstructure:"logLevel"`
	LogFormat          string `mapstructure:"logFormat"`
	LogFile            string `mapstructure:"logFile"`
	GitHubToken        string `mapstructure:"githubToken"`
	GitHubBaseURL      string `mapstructure:"githubBaseURL"`
	GitHubUploadURL    string `mapstructure:"githubUploadURL"`
	Remote             string `mapstructure:"remote"`
	SchemaVersion      int    `mapstructure:"schemaVersion"`
}

// KeyKind is the value type of a configuration key.
type KeyKind int

const (
	BoolKey KeyKind = iota
	StringKey
	IntKey
)

// Key describes one configuration key and the flag that overrides it.
type Key struct {
	Name      string
	Flag      string
	Shorthand string
	Kind      KeyKind
	Default   any
	Choices   []string
	Secret    bool
	Usage     string

	// EnvAliases are consulted after the AUTO_REBASE_ variable.
	EnvAliases []string
}

// Env returns the primary environment variable for the key.
func (k Key) Env() string {
	var b strings.Builder
	b.WriteString(envPrefix)
	runes := []rune(k.Name)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(runes[i-1]) {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Keys lists every configuration key in display order.
var Keys = []Key{
	{Name: "allowEmpty", Flag: "allow-empty", Kind: BoolKey, Default: false, Usage: "Keep commits that become empty instead of skipping them"},
	{Name: "linear", Flag: "linear", Kind: BoolKey, Default: false, Usage: "Use a native git rebase instead of replaying commits"},
	{Name: "continueOnConflict", Flag: "continue-on-conflict", Kind: BoolKey, Default: false, Usage: "Resolve linear rebase conflicts with the current branch's side"},
	{Name: "remoteTarget", Flag: "remote-target", Kind: BoolKey, Default: false, Usage: "List remote branches in the target selector"},
	{Name: "onConflict", Flag: "on-conflict", Kind: StringKey, Default: string(rebase.StrategyPause), Choices: strategyChoices(), Usage: "Conflict strategy for replayed commits"},
	{Name: "dryRun", Flag: "dry-run", Kind: BoolKey, Default: false, Usage: "Print the planned git operations without running them"},
	{Name: "yes", Flag: "yes", Shorthand: "y", Kind: BoolKey, Default: false, Usage: "Skip confirmation prompts"},
	{Name: "autostash", Flag: "autostash", Kind: BoolKey, Default: false, Usage: "Stash local changes before the rebase and restore them after"},
	{Name: "pushWithLease", Flag: "push-with-lease", Kind: BoolKey, Default: false, Usage: "Push the rebased branch with --force-with-lease"},
	{Name: "noBackup", Flag: "no-backup", Kind: BoolKey, Default: false, Usage: "Do not tag the branch before it is rewritten"},
	{Name: "retargetPR", Flag: "retarget-pr", Kind: BoolKey, Default: false, Usage: "Point the branch's open pull request at the target"},
	{Name: "logLevel", Flag: "log-level", Kind: StringKey, Default: "info", Choices: []string{"debug", "info", "warn", "error"}, Usage: "Log level"},
	{Name: "logFormat", Flag: "log-format", Kind: StringKey, Default: "text", Choices: []string{"text", "json"}, Usage: "Log format"},
	{Name: "logFile", Flag: "log-file", Kind: StringKey, Default: "", Usage: "Also write logs to this rotating file"},
	{Name: "githubToken", Kind: StringKey, Default: "", Secret: true, Usage: "Token used for pull request updates", EnvAliases: []string{"GITHUB_TOKEN"}},
	{Name: "githubBaseURL", Kind: StringKey, Default: "", Usage: "GitHub Enterprise API URL"},
	{Name: "githubUploadURL", Kind: StringKey, Default: "", Usage: "GitHub Enterprise upload URL"},
	{Name: "remote", Kind: StringKey, Default: "origin", Usage: "Remote to fetch from and push to"},
	{Name: "schemaVersion", Kind: IntKey, Default: SchemaVersion, Usage: "Config file format version"},
}

func strategyChoices() []string {
	out := make([]string, 0, len(rebase.Strategies))
	for _, s := range rebase.Strategies {
		out = append(out, string(s))
	}
	return out
}

// LookupKey finds a key by name, ignoring case.
func LookupKey(name string) (Key, bool) {
	for _, k := range Keys {
		if strings.EqualFold(k.Name, name) {
			return k, true
		}
	}
	return Key{}, false
}

// ParseValue converts raw into the key's value type.
func (k Key) ParseValue(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch k.Kind {
	case BoolKey:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", k.Name, raw)
		}
		return v, nil
	case IntKey:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects a number, got %q", k.Name, raw)
		}
		return v, nil
	default:
		if len(k.Choices) > 0 && !slices.Contains(k.Choices, strings.ToLower(raw)) {
			return nil, fmt.Errorf("%s must be one of %s, got %q", k.Name, strings.Join(k.Choices, ", "), raw)
		}
		if len(k.Choices) > 0 {
			raw = strings.ToLower(raw)
		}
		return raw, nil
	}
}

// Source names the layer a resolved value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceGlobal  Source = "global"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// LoadOptions controls which layers LoadConfig consults.
type LoadOptions struct {
	// NoConfig skips both config files.
	NoConfig bool

	// GlobalPath overrides GlobalConfigPath.
	GlobalPath string

	// LocalDir is the worktree root holding .auto-rebase.yaml. Empty skips the
	// local file.
	LocalDir string

	// Flags are consulted for explicitly set flags only.
	Flags *pflag.FlagSet
}

// Loaded is a resolved configuration along with where each value came from.
type Loaded struct {
	Config   Config
	Sources  map[string]Source
	Files    []string
	Warnings []string
}

// GlobalConfigPath returns $XDG_CONFIG_HOME/auto-rebase/config.yaml, falling
// back to ~/.config when XDG_CONFIG_HOME is unset.
func GlobalConfigPath() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, appDirName, globalFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName, globalFile), nil
}

// LocalConfigPath returns the repository-local config file under root.
func LocalConfigPath(root string) string {
	return filepath.Join(root, localFileName)
}

// LoadConfig merges defaults, the global file, the local file, AUTO_REBASE_*
// variables and explicitly set flags, in increasing precedence, and validates
// the result.
func LoadConfig(opts LoadOptions) (Loaded, error) {
	v := viper.New()
	loaded := Loaded{Sources: make(map[string]Source, len(Keys))}

	for _, k := range Keys {
		v.SetDefault(k.Name, k.Default)
		loaded.Sources[k.Name] = SourceDefault
	}

	if !opts.NoConfig {
		globalPath := opts.GlobalPath
		if globalPath == "" {
			p, err := GlobalConfigPath()
			if err != nil {
				return Loaded{}, err
			}
			globalPath = p
		}

		layers := []struct {
			path   string
			source Source
		}{{globalPath, SourceGlobal}}
		if opts.LocalDir != "" {
			layers = append(layers, struct {
				path   string
				source Source
			}{LocalConfigPath(opts.LocalDir), SourceLocal})
		}

		for _, layer := range layers {
			file, err := readLayer(layer.path)
			if err != nil {
				return Loaded{}, err
			}
			if file == nil {
				continue
			}
			if err := v.MergeConfigMap(file.AllSettings()); err != nil {
				return Loaded{}, fmt.Errorf("merge %s: %w", layer.path, err)
			}
			for _, k := range Keys {
				if file.IsSet(k.Name) {
					loaded.Sources[k.Name] = layer.source
				}
			}
			loaded.Files = append(loaded.Files, layer.path)
		}
	}

	for _, k := range Keys {
		names := append([]string{k.Env()}, k.EnvAliases...)
		if err := v.BindEnv(append([]string{k.Name}, names...)...); err != nil {
			return Loaded{}, fmt.Errorf("bind %s: %w", k.Name, err)
		}
		for _, name := range names {
			if strings.TrimSpace(os.Getenv(name)) != "" {
				loaded.Sources[k.Name] = SourceEnv
				break
			}
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.Visit(func(f *pflag.Flag) {
			k, ok := keyForFlag(f.Name)
			if !ok {
				return
			}
			if err := v.BindPFlag(k.Name, f); err != nil && bindErr == nil {
				bindErr = fmt.Errorf("bind --%s: %w", f.Name, err)
			}
			loaded.Sources[k.Name] = SourceFlag
		})
		if bindErr != nil {
			return Loaded{}, bindErr
		}
	}

	if err := v.Unmarshal(&loaded.Config); err != nil {
		return Loaded{}, fmt.Errorf("decode configuration: %w", err)
	}

	loaded.Config.normalize()
	warnings, err := loaded.Config.Validate()
	if err != nil {
		return Loaded{}, err
	}
	loaded.Warnings = warnings

	return loaded, nil
}

// RegisterFlags defines a flag for every key that has one.
func RegisterFlags(flags *pflag.FlagSet) {
	for _, k := range Keys {
		if k.Flag == "" {
			continue
		}
		switch k.Kind {
		case BoolKey:
			flags.BoolP(k.Flag, k.Shorthand, k.Default.(bool), k.Usage)
		case IntKey:
			flags.IntP(k.Flag, k.Shorthand, k.Default.(int), k.Usage)
		default:
			usage := k.Usage
			if len(k.Choices) > 0 {
				usage = fmt.Sprintf("%s (%s)", usage, strings.Join(k.Choices, ", "))
			}
			flags.StringP(k.Flag, k.Shorthand, k.Default.(string), usage)
		}
	}
}

func keyForFlag(flag string) (Key, bool) {
	for _, k := range Keys {
		if k.Flag != "" && k.Flag == flag {
			return k, true
		}
	}
	return Key{}, false
}

// readLayer loads one YAML file into its own viper instance so the keys it sets
// can be told apart. A missing file yields nil.
func readLayer(path string) (*viper.Viper, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	layer := viper.New()
	layer.SetConfigFile(path)
	layer.SetConfigType("yaml")
	if err := layer.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return layer, nil
}

func (c *Config) normalize() {
	c.OnConflict = strings.ToLower(strings.TrimSpace(c.OnConflict))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.LogFile = strings.TrimSpace(c.LogFile)
	c.GitHubToken = strings.TrimSpace(c.GitHubToken)
	c.GitHubBaseURL = strings.TrimSpace(c.GitHubBaseURL)
	c.GitHubUploadURL = strings.TrimSpace(c.GitHubUploadURL)
	c.Remote = strings.TrimSpace(c.Remote)
	if c.Remote == "" {
		c.Remote = "origin"
	}
}

// Validate rejects unusable values and returns warnings for values that are
// accepted but have no effect.
func (c Config) Validate() ([]string, error) {
	if _, err := rebase.ParseStrategy(c.OnConflict); err != nil {
		return nil, fmt.Errorf("onConflict: %w", err)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return nil, err
	}

	switch c.LogFormat {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("unsupported log format %q", c.LogFormat)
	}

	if (c.GitHubBaseURL == "") != (c.GitHubUploadURL == "") {
		return nil, fmt.Errorf("githubBaseURL and githubUploadURL must both be set for GitHub Enterprise")
	}

	if c.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("config schema version %d is newer than supported version %d", c.SchemaVersion, SchemaVersion)
	}

	var warnings []string
	if c.ContinueOnConflict && !c.Linear {
		warnings = append(warnings, "continueOnConflict only applies to linear rebases and is ignored")
	}
	if c.RetargetPR && !c.PushWithLease {
		warnings = append(warnings, "retargetPR requires pushWithLease and is ignored")
	}
	return warnings, nil
}

// RebaseConfig translates the persistent options into session controls.
func (c Config) RebaseConfig() (rebase.Config, error) {
	strategy, err := rebase.ParseStrategy(c.OnConflict)
	if err != nil {
		return rebase.Config{}, err
	}
	return rebase.Config{
		Remote:             c.Remote,
		Linear:             c.Linear,
		Strategy:           strategy,
		AllowEmpty:         c.AllowEmpty,
		ContinueOnConflict: c.ContinueOnConflict,
		Autostash:          c.Autostash,
		Backup:             !c.NoBackup,
	}, nil
}
