// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// The server binary serves a resource directory over HTTP. It takes a
// single configuration file and exits non-zero on startup failure.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/tessella-io/facet/core/api"
	"github.com/tessella-io/facet/core/csql"
	"github.com/tessella-io/facet/core/datasource"
	"github.com/tessella-io/facet/core/datasource/sqlds"
	"github.com/tessella-io/facet/core/logger"
)

// ServerConfig is the content of the configuration file.
type ServerConfig struct {
	Listen        string `json:"listen"`
	ResourcesPath string `json:"resourcesPath"`
	LogLevel      string `json:"logLevel"`
	ExposeErrors  bool   `json:"exposeErrors"`
	Postgres      string `json:"postgres"`
	Schema        string `json:"schema"`
}

// Secrets are taken from the environment, never from the file.
//
// use POSTGRES_PASSWORD="docker"
type Secrets struct {
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
}

func run(configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("cannot read configuration: %w", err)
	}
	cfg := ServerConfig{Listen: ":3000"}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("cannot parse configuration: %w", err)
	}
	secrets := &Secrets{}
	if err := envdecode.Decode(secrets); err != nil {
		return err
	}

	adapters := map[string]datasource.Adapter{}
	if cfg.Postgres != "" {
		db, err := csql.OpenWithSchema(cfg.Postgres, secrets.PostgresPassword, cfg.Schema)
		if err != nil {
			return err
		}
		adapters["sql"] = sqlds.New(db)
	}

	router := mux.NewRouter()
	a, err := api.New(&api.Builder{
		ResourcesPath: cfg.ResourcesPath,
		Adapters:      adapters,
		Router:        router,
		LogLevel:      cfg.LogLevel,
		ExposeErrors:  cfg.ExposeErrors,
	})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer a.Close(context.Background())

	// dev hot-reload: the master sends SIGHUP when the resource
	// directory changes
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := a.ReloadConfig(); err != nil {
				logger.Default().WithError(err).Error("configuration reload failed")
			} else {
				logger.Default().Info("configuration reloaded")
			}
		}
	}()

	srv := &http.Server{Addr: cfg.Listen, Handler: router}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()
	logger.Default().Infoln("listen on", cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: server <config-file>")
		os.Exit(1)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
