package env

import (
	"fmt"
	"os"
	"sort"

	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// EnvCommands represents the environment command group
	EnvCommands = &cobra.Command{
		Use:   "env",
		Short: "Inspect and manage an environment directory",
	}
	infoCmd = &cobra.Command{
		Use:     "info",
		Short:   "Prints the configuration, the tables and the writer statistics",
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := util.OpenEnv()
			if err != nil {
				return err
			}
			defer env.Close()

			info, err := env.Info()
			if err != nil {
				return err
			}
			printInfo(env, info)

			if viper.GetBool("metrics") {
				fmt.Println()
				env.Writer().WritePrometheus(os.Stdout)
			}
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:     "delete",
		Short:   "Deletes the data and lock file (or the whole dedicated sub directory)",
		PreRunE: bindFlags,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := util.GetEnvDir()
			if !dir.Exists() {
				return fmt.Errorf("no environment found in %s", dir.Path())
			}
			// the env must be opened once to hold the lock while deleting
			env, err := util.OpenEnv()
			if err != nil {
				return err
			}
			if err := env.Close(); err != nil {
				return err
			}
			if err := env.Delete(); err != nil {
				return err
			}
			fmt.Printf("deleted %s\n", dir.Path())
			return nil
		},
	}
)

func init() {
	util.SetupEnvFlags(EnvCommands)

	key := "metrics"
	infoCmd.Flags().Bool(key, false, util.WrapString("Also print the writer metrics in the Prometheus text format"))

	EnvCommands.AddCommand(infoCmd)
	EnvCommands.AddCommand(deleteCmd)
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

func printInfo(env *store.Env, info store.Info) {
	cfg := env.Config()
	fmt.Printf("Environment %s\n", info.ID)
	fmt.Printf("  %-24s: %s\n", "Path", info.Path)
	fmt.Printf("  %-24s: %s of %s\n", "Size On Disk", units.BytesSize(float64(info.SizeOnDisk)), units.BytesSize(float64(info.MaxMapSize)))
	fmt.Print(cfg.String())

	fmt.Println()
	fmt.Println("TABLES")
	names := make([]string, 0, len(info.Tables))
	for name := range info.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Println("  (none)")
	}
	for _, name := range names {
		display := name
		if display == "" {
			display = "(unnamed)"
		}
		fmt.Printf("  %-24s: %d entries\n", display, info.Tables[name])
	}

	fmt.Println()
	fmt.Println("WRITER")
	fmt.Printf("  %-24s: %d\n", "Operations", info.Writer.Ops)
	fmt.Printf("  %-24s: %d\n", "Operation Errors", info.Writer.OpErrors)
	fmt.Printf("  %-24s: %d\n", "Commits", info.Writer.Commits)
	fmt.Printf("  %-24s: %d\n", "Commit Errors", info.Writer.CommitErrors)
	fmt.Printf("  %-24s: %d of %d\n", "Queued Operations", info.Writer.QueueLength, info.Writer.QueueCap)
}
