package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fabfab/doc-chat/api"
	"github.com/fabfab/doc-chat/chat"
	"github.com/fabfab/doc-chat/config"
	"github.com/fabfab/doc-chat/database"
	"github.com/fabfab/doc-chat/webhook"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "clear":
		clearCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if err := database.EnsureChatSchema(ctx, pgPool); err != nil {
		logger.Fatalf("ensure chat schema: %v", err)
	}

	hook, err := webhook.NewClient(cfg)
	if err != nil {
		logger.Fatalf("webhook setup: %v", err)
	}

	sessions := chat.NewPostgresSessionStore(pgPool)
	history := chat.NewPostgresMessageStore(pgPool)
	svc := chat.NewService(sessions, history, hook, logger)
	svc.Init(ctx)

	server := &http.Server{
		Addr:    *addr,
		Handler: api.New(svc, logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("server shutdown: %v", err)
		}
	}()

	logger.Printf("serving chat UI on %s", *addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("serve: %v", err)
	}
}

func clearCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	confirmed := flags.Bool("confirm", false, "skip confirmation prompt")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse clear flags: %v", err)
	}

	if !*confirmed {
		fmt.Print("This will permanently delete all chat sessions and history from Postgres. Continue? [y/N]: ")
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				logger.Fatalf("read confirmation: %v", err)
			}
			logger.Println("clear aborted")
			return
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			logger.Println("clear aborted")
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgPool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("postgres connection: %v", err)
	}
	defer pgPool.Close()

	if _, err := pgPool.Exec(ctx, "TRUNCATE chat_history, chat_sessions"); err != nil {
		logger.Fatalf("truncate chat tables: %v", err)
	}

	logger.Println("cleared chat_sessions and chat_history")
}

func printUsage() {
	fmt.Println("Usage: doc-chat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Serve the chat UI and API (use --addr to override the listen address)")
	fmt.Println("  clear    Remove all chat sessions and history from Postgres")
}
