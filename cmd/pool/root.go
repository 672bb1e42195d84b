package pool

import (
	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/ValentinKolb/mkv/lib/intern"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	env  *store.Env
	pool *intern.Pool[intern.Value]

	// PoolCommands represents the intern pool command group
	PoolCommands = &cobra.Command{
		Use:                "pool",
		Short:              "Perform intern pool operations",
		PersistentPreRunE:  openPool,
		PersistentPostRunE: closePool,
	}
)

func init() {
	util.SetupEnvFlags(PoolCommands)

	key := "pool"
	PoolCommands.PersistentFlags().String(key, "pool", util.WrapString("Name of the intern pool"))
	key = "proxy-cache"
	PoolCommands.PersistentFlags().Int(key, intern.DefaultConfig().ProxyCacheSize, util.WrapString("Number of cached value proxies (0 disables the cache)"))

	PoolCommands.AddCommand(internCmd)
	PoolCommands.AddCommand(getCmd)
	PoolCommands.AddCommand(deleteCmd)
	PoolCommands.AddCommand(sizeCmd)
	PoolCommands.AddCommand(clearCmd)
	PoolCommands.AddCommand(infoCmd)
	PoolCommands.AddCommand(benchCmd)
}

// openPool builds the environment and opens the pool inside it
func openPool(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if env, err = util.OpenEnv(); err != nil {
		return err
	}

	cfg := intern.DefaultConfig()
	cfg.ProxyCacheSize = viper.GetInt("proxy-cache")
	pool, err = intern.New[intern.Value](env, viper.GetString("pool"), intern.ValueSerde{}, cfg)
	if err != nil {
		_ = env.Close()
		env = nil
	}
	return err
}

// closePool closes the pool and the environment, committing all writes
func closePool(_ *cobra.Command, _ []string) error {
	if env == nil {
		return nil
	}
	if err := pool.Close(); err != nil {
		_ = env.Close()
		return err
	}
	return env.Close()
}
