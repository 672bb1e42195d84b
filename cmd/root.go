package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ValentinKolb/mkv/cmd/env"
	"github.com/ValentinKolb/mkv/cmd/pool"
	"github.com/ValentinKolb/mkv/cmd/table"
	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "mkv",
		Short: "embedded transactional key-value store",
		Long: fmt.Sprintf(`mkv (v%s)

An embedded, transactional key-value store and value interning library
written in Go. All writes of a process are serialized through one
long-lived write transaction that is committed in batches.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mkv v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(env.EnvCommands)
	RootCmd.AddCommand(pool.PoolCommands)
	RootCmd.AddCommand(table.TableCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
