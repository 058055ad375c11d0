package main

import (
	"context"
	"log"
	"os"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/agent"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/buildinfo"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := agent.NewApp(cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	app.Run(ctx)

}
