package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/drawboard/drawboard/internal/api"
	"github.com/drawboard/drawboard/internal/config"
	"github.com/drawboard/drawboard/internal/database"
	"github.com/drawboard/drawboard/internal/server"
	"github.com/drawboard/drawboard/internal/stats"
)

const defaultSigningKey = "9hYx3DK1qPCxkNQeYSQpJF3BdZz/XGK1nP0a5uY+7dw="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	historyLimit   int
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&addr, "addr", "localhost:8000", "server address")
	flag.StringVar(&dsn, "dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flag.StringVar(&signingKey, "signing-key", defaultSigningKey, "base64 encoded signing key")
	flag.IntVar(&historyLimit, "history-limit", 0, "max snapshot/chat entries returned per history request")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[drawboard] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins, historyLimit)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgBoardRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	boardServer, err := server.NewBoardServer(logger, dbConn, statsUpdater, nil)
	if err != nil {
		logger.Fatal("new board server:", err)
	}

	srv := api.NewBoardApp(mux, logger, boardServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down board server...")
	if err := boardServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("board server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
