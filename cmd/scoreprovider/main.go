package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/flowscore/internal/logging"
	"github.com/danmuck/flowscore/internal/provider"
)

func main() {
	var (
		configPath string
		document   string
	)
	flag.StringVar(&configPath, "config", "", "path to provider TOML config")
	flag.StringVar(&document, "document", "", "MEI score to stream (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := provider.DefaultServiceConfig()
	if strings.TrimSpace(configPath) != "" {
		loaded, err := loadServiceConfig(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "scoreprovider: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if strings.TrimSpace(document) != "" {
		cfg.DocumentPath = document
	}
	if cfg.DocumentPath == "" && flag.NArg() > 0 {
		cfg.DocumentPath = flag.Arg(0)
	}

	svc := provider.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "scoreprovider: %v\n", err)
		os.Exit(1)
	}
}
