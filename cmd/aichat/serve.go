package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/aichat/internal/api"
	"github.com/user/aichat/internal/hub"
	"github.com/user/aichat/internal/orchestrator"
	"github.com/user/aichat/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST and websocket chat API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (1-65535)")
	serveCmd.Flags().Bool("print-token", false, "print the access token to stdout")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr, true)

	generated, err := cfg.EnsureServerToken()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	h := hub.New(cfg.Server.Token, logger)
	a, err := buildApp(ctx, cfg, logger, appOptions{Publishers: []orchestrator.Publisher{h}})
	if err != nil {
		return err
	}
	defer a.Close()
	h.SetConversations(a.orch)
	go h.Run(ctx)

	srv := server.New(cfg, http.HandlerFunc(h.HandleWebSocket), api.NewRouter(a.orch, a.tools, cfg.Server.Token), logger)
	if printToken, _ := cmd.Flags().GetBool("print-token"); printToken || generated {
		fmt.Printf("\naichat running at http://localhost:%d (token %s)\n\n", cfg.Server.Port, cfg.Server.Token)
	}
	return srv.Start(ctx)
}
