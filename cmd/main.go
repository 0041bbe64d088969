package main

import (
	"log"

	"github.com/atlasview/layerd/internal/app"
	"github.com/atlasview/layerd/pkg/config"
)

func main() {
	realMain()
}

func realMain() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalln("failed to load config: ", err)
	}

	app.Run(cfg)
}
