package table

import (
	"fmt"

	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/ValentinKolb/mkv/lib/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [table] [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := openTable(args[0])
			if err != nil {
				return err
			}
			value, err := util.ParseValue(format, args[2])
			if err != nil {
				return err
			}
			if err := tbl.Put(cmd.Context(), args[1], value); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [table] [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := openTable(args[0])
			if err != nil {
				return err
			}
			value, ok, err := tbl.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, value=%v\n", args[1], ok, value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [table] [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := openTable(args[0])
			if err != nil {
				return err
			}
			deleted, err := tbl.Delete(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%t\n", args[1], deleted)
			return nil
		},
	}
	scanCmd = &cobra.Command{
		Use:   "scan [table]",
		Short: "Lists the entries of a table in key order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			tbl, err := openTable(args[0])
			if err != nil {
				return err
			}
			r := scanRange()

			limit := viper.GetInt("limit")
			n := 0
			err = tbl.ForEach(r, func(key string, value any) (bool, error) {
				fmt.Printf("%s\t%v\n", key, value)
				n++
				return limit <= 0 || n < limit, nil
			})
			if err != nil {
				return err
			}
			fmt.Printf("(%d entries)\n", n)
			return nil
		},
	}
	countCmd = &cobra.Command{
		Use:   "count [table]",
		Short: "Prints the number of entries of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tbl, err := openTable(args[0])
			if err != nil {
				return err
			}
			// pending writes of this process are committed first
			if err := env.Writer().Sync(cmd.Context()); err != nil {
				return err
			}
			n, err := tbl.Count()
			if err != nil {
				return err
			}
			fmt.Printf("table=%s, count=%d\n", args[0], n)
			return nil
		},
	}
)

func init() {
	key := "from"
	scanCmd.Flags().String(key, "", util.WrapString("Only list keys >= from (<= from with --reverse)"))
	key = "to"
	scanCmd.Flags().String(key, "", util.WrapString("Only list keys <= to (>= to with --reverse)"))
	key = "reverse"
	scanCmd.Flags().Bool(key, false, util.WrapString("List the keys in descending order"))
	key = "limit"
	scanCmd.Flags().Int(key, 0, util.WrapString("Stop after this many entries (0 lists all)"))
}

// scanRange builds the key range from the scan flags
func scanRange() table.KeyRange[string] {
	from, to := viper.GetString("from"), viper.GetString("to")
	reverse := viper.GetBool("reverse")

	r := table.KeyRange[string]{Start: from, Stop: to}
	switch {
	case from == "" && to == "":
		r.Type = store.ForwardAll
	case to == "":
		r.Type = store.ForwardAtLeast
	case from == "":
		r.Type = store.ForwardAtMost
	default:
		r.Type = store.ForwardClosed
	}
	if reverse {
		// backward types follow the forward ones in the same order
		r.Type += store.BackwardAll
	}
	return r
}
