package main

import (
	"context"
	"fmt"
	"os"

	"scrapeflow/internal/service/scraper"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	version = "1.0.0"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scrapeflow",
	Short: "Scraping orchestration service",
	Long:  `Task orchestration engine for browser-driven data extraction with a REST API.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scraping service",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue an API token",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		issueToken(args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Scrapeflow Version: %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServer() {
	app := fx.New(
		scraper.App,
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start scraping service: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Scraping service started successfully")

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop scraping service: %v\n", err)
		os.Exit(1)
	}
}

func issueToken(subject string) {
	var tokens *scraper.TokenService

	app := fx.New(
		scraper.App,
		fx.NopLogger,
		fx.Invoke(func(ts *scraper.TokenService) {
			tokens = ts
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	token, expiresAt, err := tokens.Issue(subject)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to issue token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Token: %s\nExpires: %s\n", token, expiresAt.Format("2006-01-02 15:04:05 MST"))

	stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to stop: %v\n", err)
		os.Exit(1)
	}
}
