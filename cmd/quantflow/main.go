package main

import (
	"flag"
	"log"

	"quantflow/conf"
	"quantflow/pkg/logger"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "c", "conf/config.yaml", "config file path")
	flag.Parse()

	if err := conf.LoadConfig(cfgPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(conf.AppConfig.Log)
	defer logger.Sync()

	apiRouter, cleanup := InitApp(conf.AppConfig)

	server := NewServer(conf.AppConfig)
	server.RegisterOnShutdown(cleanup)
	server.Run(apiRouter)
}
