// Postflow CLI — управление запланированными публикациями через HTTP API.
//
// Использование:
//
//	postflow [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	record  Управление записями (create, list, show, reschedule, cancel, delete)
//	queue   Очередь: статистика, dead job'ы, redrive, ручной sweep
//
// Адрес API можно задать через POSTFLOW_API_URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shaiso/Postflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	v := viper.New()
	v.SetEnvPrefix("POSTFLOW")
	v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "postflow",
		Short:         "Postflow CLI — scheduled social posts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	_ = v.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = v.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	clientFn := func() *cli.Client { return cli.NewClient(v.GetString("api_url")) }
	outputFn := func() *cli.Output { return cli.NewOutput(v.GetBool("json")) }

	rootCmd.AddCommand(
		cli.NewRecordCmd(clientFn, outputFn),
		cli.NewQueueCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
