package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"

	"commerce/internal/app"
	"commerce/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

// コマンド間で共有する設定と組み立て済みのアプリ
type env struct {
	out    io.Writer
	logger *log.Logger
	cfg    config.Config
	app    *app.App
}

// 保存先が要るコマンドだけが呼ぶ
func (e *env) open(cmd *cobra.Command) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	stores, err := app.OpenStores(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return nil, err
	}
	e.app = app.New(e.cfg, stores, app.Options{Logger: e.logger})
	return e.app, nil
}

func (e *env) close() error {
	if e.app == nil {
		return nil
	}
	return e.app.Close()
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(out io.Writer) *cobra.Command {
	e := &env{out: out}

	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operations CLI for the commerce backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			e.cfg = cfg

			verbose, _ := cmd.Flags().GetBool("verbose")
			logOut := io.Discard
			if verbose {
				logOut = cmd.ErrOrStderr()
			}
			e.logger = log.New(logOut, "[opsctl] ", log.LstdFlags)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr")

	rootCmd.AddCommand(reconcileCmd(e))
	rootCmd.AddCommand(orderCmd(e))
	rootCmd.AddCommand(paymentCmd(e))
	rootCmd.AddCommand(statsCmd(e))
	rootCmd.AddCommand(outboxCmd(e))
	rootCmd.AddCommand(tokenCmd(e))

	return rootCmd
}
