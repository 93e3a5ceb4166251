// Package main provides the HuginDB CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tveitane/hugindb/pkg/auth"
	"github.com/tveitane/hugindb/pkg/config"
	"github.com/tveitane/hugindb/pkg/hugindb"
	"github.com/tveitane/hugindb/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "hugindb",
		Short: "HuginDB - Cypher-compatible graph database",
		Long: `HuginDB is a graph database written in Go, exposing a
Cypher-compatible query language over HTTP.

Features:
  • Cypher query language (MATCH, CREATE, MERGE, WITH, UNION, ...)
  • In-memory or persistent (BadgerDB) storage
  • Secondary property indexes and a compiled plan cache
  • User-defined functions via CREATE FUNCTION
  • Neo4j-compatible HTTP result shapes`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HuginDB v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HuginDB server",
		Long:  "Start the HuginDB HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}
	serveCmd.Flags().String("engine", "", "Storage engine: memory or badger")
	serveCmd.Flags().String("data-dir", "", "Data directory for the badger engine")
	serveCmd.Flags().Int("http-port", 0, "HTTP API port")
	serveCmd.Flags().Bool("no-auth", false, "Disable authentication")
	rootCmd.AddCommand(serveCmd)

	evalCmd := &cobra.Command{
		Use:   "eval [query]",
		Short: "Run a single Cypher statement and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, configPath, args[0])
		},
	}
	evalCmd.Flags().String("engine", "", "Storage engine: memory or badger")
	evalCmd.Flags().String("data-dir", "", "Data directory for the badger engine")
	evalCmd.Flags().String("params", "", "Statement parameters as a JSON object")
	evalCmd.Flags().Bool("json", false, "Print the result as JSON instead of a table")
	rootCmd.AddCommand(evalCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers flags over the file/env configuration.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if engine, _ := cmd.Flags().GetString("engine"); engine != "" {
		cfg.Database.Engine = engine
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	if cmd.Flags().Lookup("http-port") != nil {
		if port, _ := cmd.Flags().GetInt("http-port"); port != 0 {
			cfg.Server.Port = port
		}
	}
	if cmd.Flags().Lookup("no-auth") != nil {
		if noAuth, _ := cmd.Flags().GetBool("no-auth"); noAuth {
			cfg.Auth.Enabled = false
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Starting HuginDB v%s\n", version)
	fmt.Printf("  Engine:   %s\n", cfg.Database.Engine)
	if cfg.Database.Engine == config.EngineBadger {
		fmt.Printf("  Data dir: %s\n", cfg.Database.DataDir)
		if err := os.MkdirAll(cfg.Database.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}
	fmt.Printf("  HTTP API: http://%s\n", cfg.Server.ListenAddr())
	fmt.Println()

	db, err := hugindb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier, err = auth.NewVerifier(cfg.Auth.Username, cfg.Auth.Password, 0)
		if err != nil {
			return fmt.Errorf("setting up authentication: %w", err)
		}
		fmt.Printf("Authentication enabled (user %q)\n", cfg.Auth.Username)
	} else {
		fmt.Println("Authentication disabled")
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Address = cfg.Server.Address
	serverConfig.Port = cfg.Server.Port

	httpServer, err := server.New(db, verifier, serverConfig)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	fmt.Println()
	fmt.Println("HuginDB is ready")
	fmt.Printf("  Cypher:  POST http://%s/db/data/cypher\n", httpServer.Addr())
	fmt.Printf("  Health:  GET  http://%s/health\n", httpServer.Addr())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	return nil
}

func runEval(cmd *cobra.Command, configPath, query string) error {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	var params map[string]any
	if paramsJSON, _ := cmd.Flags().GetString("params"); paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			return fmt.Errorf("parsing --params: %w", err)
		}
	}

	db, err := hugindb.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	result, err := db.ExecuteWithParams(context.Background(), query, params)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"columns": result.Columns,
			"rows":    result.Rows,
		})
	}

	printTable(result.Columns, result.Rows)
	fmt.Printf("%d row(s)\n", len(result.Rows))
	return nil
}

// printTable renders columns and rows with padded cells.
func printTable(columns []string, rows [][]any) {
	if len(columns) == 0 {
		return
	}

	cells := make([][]string, 0, len(rows))
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	for _, row := range rows {
		line := make([]string, len(columns))
		for i := range columns {
			line[i] = formatValue(row[i])
			if len(line[i]) > widths[i] {
				widths[i] = len(line[i])
			}
		}
		cells = append(cells, line)
	}

	printRow := func(line []string) {
		parts := make([]string, len(line))
		for i, cell := range line {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		fmt.Println("| " + strings.Join(parts, " | ") + " |")
	}

	printRow(columns)
	sep := make([]string, len(columns))
	for i := range sep {
		sep[i] = strings.Repeat("-", widths[i])
	}
	printRow(sep)
	for _, line := range cells {
		printRow(line)
	}
}

func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
