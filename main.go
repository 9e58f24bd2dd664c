// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JeroenDeDauw/server/migrate"
	"github.com/JeroenDeDauw/server/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	shutdownGrace = 10 * time.Second
)

var (
	version  string = "dev"
	commitID string = "dev"
)

func main() {
	tmpLogger := server.NewJSONLogger(os.Stdout, zapcore.InfoLevel, server.JSONFormat)

	flags := flag.NewFlagSet("lobby", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to the YAML configuration file.")
	printVersion := flags.Bool("version", false, "Print the version and exit.")
	if err := flags.Parse(os.Args[1:]); err != nil {
		tmpLogger.Fatal("Could not parse flags", zap.Error(err))
	}
	if *printVersion {
		fmt.Printf("%s+%s\n", version, commitID)
		return
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		tmpLogger.Fatal("Could not load config", zap.Error(err))
	}

	logger, startupLogger := server.SetupLogging(tmpLogger, config)
	undoStdLog := server.RedirectStdLog(logger)
	defer undoStdLog()

	ctx, ctxCancelFn := context.WithCancel(context.Background())
	defer ctxCancelFn()

	db, err := server.DbConnect(ctx, startupLogger, config.Database)
	if err != nil {
		startupLogger.Fatal("Could not connect to database", zap.Error(err))
	}
	defer db.Close()

	// "lobby migrate up|down|status" manages the schema and exits.
	if args := flags.Args(); len(args) > 0 && args[0] == "migrate" {
		if err := migrate.RunCmd(startupLogger, db, config.Database.Driver, args[1:]); err != nil {
			startupLogger.Fatal("Migration failed", zap.Error(err))
		}
		return
	}

	startupLogger.Info("Server starting", zap.String("version", version), zap.String("commit", commitID), zap.String("name", config.Name))

	if config.Database.MigrateOnStart {
		if _, err := migrate.Up(startupLogger, db, config.Database.Driver); err != nil {
			startupLogger.Fatal("Could not apply migrations", zap.Error(err))
		}
	}

	metrics := server.NewLocalMetrics(logger, config)
	store := server.NewSQLStore(logger, db, config.Database.Driver)
	engine := server.NewRatingEngine(config.Rating)
	players := server.NewPlayerRegistry(logger, metrics)
	ratingQueue := server.NewRatingQueue(ctx, logger, store, players, players, metrics, config.Database)
	games := server.NewGameRegistry(ctx, logger, store, engine, config.Game, metrics, ratingQueue)
	pipeline := server.NewPipeline(logger, config, store, games, players)
	acceptor := server.NewSocketWsAcceptor(logger, config, store, players, metrics, pipeline)

	apiServer, err := server.StartApiServer(logger, startupLogger, config, server.NewApiRouter(logger, games, players, metrics, acceptor))
	if err != nil {
		startupLogger.Fatal("Could not start API server", zap.Error(err))
	}

	startupLogger.Info("Startup done", server.StartupTimestamp())

	// Wait for a termination signal.
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	startupLogger.Info("Shutting down")

	shutdownCtx, shutdownCancelFn := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancelFn()

	apiServer.Stop(shutdownCtx)
	// Closing sessions ends games whose last connection drops; their outcomes reach the queue before it stops.
	players.Stop()
	games.Stop()
	ratingQueue.Stop()
	metrics.Stop(logger)

	startupLogger.Info("Shutdown complete")
}
