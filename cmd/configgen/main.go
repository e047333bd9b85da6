package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/charlink/internal/config"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/charlinkd/config.toml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	output := flagSet.StringP("output", "o", defaultPath, "output path for the config template")
	validate := flagSet.Bool("validate", false, "validate an existing config file instead of writing one")
	input := flagSet.String("input", defaultPath, "config path for --validate")
	force := flagSet.Bool("force", false, "overwrite an existing config file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			return err
		}
		fmt.Printf("validated %s (node=%s authority=%s zones=%d)\n", *input, cfg.Link.Node, cfg.Link.Address, len(cfg.Link.Zones))
		return nil
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		return err
	}
	fmt.Printf("wrote charlinkd config template to %s\n", *output)
	return nil
}
