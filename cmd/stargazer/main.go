package main

import (
	"fmt"
	"os"

	"stargazer/internal/cli"
	"stargazer/internal/config"
	"stargazer/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stargazer: loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stargazer: setting up logging: %v\n", err)
		os.Exit(1)
	}

	if err := cli.NewRootCmd(cfg, log).Execute(); err != nil {
		os.Exit(1)
	}
}
