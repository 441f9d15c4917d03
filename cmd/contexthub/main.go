// contexthub: Hierarchical Context Engine MCP Server
//
// An MCP server that assembles and delivers rich, quality-scored context
// payloads to AI coding agents: 6W attributes merged down the ownership
// hierarchy, supporting records, code facts, and confidence bands.
//
// Usage:
//
//	contexthub serve             # Start MCP server (stdio transport)
//	contexthub serve -config F   # Start with an explicit config file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	"contexthub/internal/config"
	ctxserver "contexthub/internal/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("contexthub v%s\n", ctxserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.yaml (default: ~/.contexthub/config.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, cleanup, err := ctxserver.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Graceful shutdown on interrupt: cancellation stops the stdio
	// transport, then the deferred cleanup closes the stores.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	if err := serve(ctx, s, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serve runs the stdio transport until stdin closes or ctx is canceled.
func serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, in, out)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `contexthub v%s — Hierarchical Context Engine MCP Server

Usage:
  contexthub serve [-config FILE]   Start the MCP server (stdio transport)
  contexthub version                Print the version

Configuration:
  Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "contexthub": {
        "command": "contexthub",
        "args": ["serve"]
      }
    }
  }
`, ctxserver.Version)
}
