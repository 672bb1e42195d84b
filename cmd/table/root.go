package table

import (
	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/ValentinKolb/mkv/lib/serde"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/ValentinKolb/mkv/lib/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	env    *store.Env
	format string

	// TableCommands represents the table command group
	TableCommands = &cobra.Command{
		Use:                "table",
		Short:              "Perform operations on a table of string keys",
		PersistentPreRunE:  openEnv,
		PersistentPostRunE: closeEnv,
	}
)

func init() {
	util.SetupEnvFlags(TableCommands)

	key := "format"
	TableCommands.PersistentFlags().String(key, "raw", util.WrapString("Encoding of the stored values (raw, json, msgpack, cbor). Structured formats take JSON on the command line"))

	TableCommands.AddCommand(putCmd)
	TableCommands.AddCommand(getCmd)
	TableCommands.AddCommand(delCmd)
	TableCommands.AddCommand(scanCmd)
	TableCommands.AddCommand(countCmd)
}

// openEnv builds the environment for the table commands
func openEnv(cmd *cobra.Command, _ []string) (err error) {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	format = viper.GetString("format")
	if _, err := util.GetValueSerde(format); err != nil {
		return err
	}
	env, err = util.OpenEnv()
	return err
}

// closeEnv commits and closes the environment
func closeEnv(_ *cobra.Command, _ []string) error {
	if env == nil {
		return nil
	}
	return env.Close()
}

// openTable opens the named table with string keys and the configured format
func openTable(name string) (*table.Table[string, any], error) {
	values, err := util.GetValueSerde(format)
	if err != nil {
		return nil, err
	}
	return table.Open[string, any](env, name, serde.String{}, values)
}
