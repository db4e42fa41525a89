package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Flags holds the command line overrides. Only flags that were set on the
// command line override the file and environment.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string
	EnvFile    string
	Host       string
	Port       int
	Model      string
	Backend    string
	Printer    string
	Debug      bool
}

func NewFlags(name string) *Flags {
	f := &Flags{fs: pflag.NewFlagSet(name, pflag.ContinueOnError)}

	f.fs.StringVarP(&f.ConfigPath, "config", "c", DefaultConfigPath, "Path to the yaml config file")
	f.fs.StringVar(&f.EnvFile, "env-file", DefaultEnvFile, "Path to a .env file")
	f.fs.StringVar(&f.Host, "host", "", "Host / IP to listen on")
	f.fs.IntVar(&f.Port, "port", 0, "Port to listen on")
	f.fs.StringVarP(&f.Model, "model", "m", "", "Printer model")
	f.fs.StringVarP(&f.Backend, "backend", "b", "", "Printer backend (network, file, dryrun)")
	f.fs.StringVarP(&f.Printer, "printer", "p", "", "Printer identifier, e.g. tcp://192.168.1.20:9100 or file:///dev/usb/lp0")
	f.fs.BoolVar(&f.Debug, "debug", false, "Enable verbose debugging output")

	return f
}

func (f *Flags) Parse(args []string) error {
	return f.fs.Parse(args)
}

func (f *Flags) Usage() string {
	return f.fs.FlagUsages()
}

func (f *Flags) apply(cfg *Config) {
	if f.fs.Changed("host") {
		cfg.Server.Host = f.Host
	}
	if f.fs.Changed("port") {
		cfg.Server.Port = f.Port
	}
	if f.fs.Changed("model") {
		cfg.Printer.Model = f.Model
	}
	if f.fs.Changed("backend") {
		cfg.Printer.Backend = f.Backend
	}
	if f.fs.Changed("printer") {
		cfg.Printer.Identifier = f.Printer
	}
	if f.fs.Changed("debug") {
		cfg.Debug = f.Debug
	}
}

// Resolve builds the startup configuration from parsed flags: defaults, then
// the yaml file, then the env file and LABEL_API_* variables, then the flags.
func Resolve(f *Flags) (*Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	if err := LoadDotEnv(f.EnvFile); err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	f.apply(cfg)
	cfg.finalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
