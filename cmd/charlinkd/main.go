package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/charlink/internal/config"
	"github.com/danmuck/charlink/internal/frontend"
	"github.com/danmuck/charlink/internal/logging"
	"github.com/danmuck/charlink/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "charlinkd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath string
		logLevel   string
		validate   bool
	)
	flagSet := pflag.NewFlagSet("charlinkd", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "cmd/charlinkd/config.toml", "path to the TOML config file")
	flagSet.StringVar(&logLevel, "log-level", "", "override the log level (trace|debug|info|warn|error)")
	flagSet.BoolVar(&validate, "validate", false, "load and validate the config, then exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	observability.InitLogger("charlinkd")
	if logLevel != "" && !logging.SetLevel(logLevel) {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if validate {
		log.Info().Str("path", configPath).Str("node", cfg.Link.Node).Msg("charlinkd config valid")
		return nil
	}

	svc, err := frontend.NewService(cfg)
	if err != nil {
		return err
	}
	return svc.Run()
}
