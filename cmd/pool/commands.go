package pool

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/mkv/cmd/util"
	"github.com/ValentinKolb/mkv/lib/intern"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	internCmd = &cobra.Command{
		Use:   "intern [value]",
		Short: "Interns a value and prints its key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseValue(args[0])
			if err != nil {
				return err
			}
			proxy, err := pool.Intern(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Printf("value=%v, key=%s\n", v, proxy.Key())
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value of a key (format <hash>:<seq>)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			key, err := intern.ParseKey(args[0])
			if err != nil {
				return err
			}
			v, ok, err := pool.Proxy(key).Get()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			}
			fmt.Printf("key=%s, found=true, kind=%s, value=%v\n", key, v.Kind(), v)
			return nil
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "del [value]",
		Short: "Removes a value from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseValue(args[0])
			if err != nil {
				return err
			}
			deleted, err := pool.Delete(cmd.Context(), v)
			if err != nil {
				return err
			}
			fmt.Printf("value=%v, deleted=%t\n", v, deleted)
			return nil
		},
	}
	sizeCmd = &cobra.Command{
		Use:   "size",
		Short: "Prints the number of values in the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := pool.Flush(cmd.Context()); err != nil {
				return err
			}
			n, err := pool.Size()
			if err != nil {
				return err
			}
			fmt.Printf("pool=%s, size=%d\n", pool.Name(), n)
			return nil
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Removes every value from the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := pool.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("cleared successfully")
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints value size statistics of the pool",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			info, err := pool.Info()
			if err != nil {
				return err
			}
			printInfo(info)
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{internCmd, deleteCmd} {
		cmd.Flags().String("kind", "string", util.WrapString("Kind of the value (string, int, bytes, null)"))
	}
}

// parseValue converts the argument to a value of the kind given by --kind
func parseValue(arg string) (intern.Value, error) {
	switch kind := viper.GetString("kind"); kind {
	case "string":
		return intern.StringValue(arg), nil
	case "int":
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value must be a number: %w", err)
		}
		return intern.Int64Value(n), nil
	case "bytes":
		return intern.BytesValue(arg), nil
	case "null":
		return intern.NullValue{}, nil
	default:
		return nil, fmt.Errorf("invalid kind %s", kind)
	}
}

func printInfo(info intern.Info) {
	fmt.Printf("Pool %s\n", info.Name)
	fmt.Printf("  %-24s: %d\n", "Values", info.Size)
	fmt.Printf("  %-24s: %d\n", "Collisions", info.Collisions)
	fmt.Printf("  %-24s: %s\n", "Mean Value Size", units.BytesSize(info.ValueSizes.Mean))
	fmt.Printf("  %-24s: %s\n", "Std Deviation", units.BytesSize(info.ValueSizes.StdDeviation))
	fmt.Printf("  %-24s: %s - %s\n", "Min - Max", units.BytesSize(info.ValueSizes.Min), units.BytesSize(info.ValueSizes.Max))
	fmt.Printf("  %-24s: ~%s\n", "Median Value Size", units.BytesSize(float64(info.MedianSize)))
	fmt.Printf("  %-24s: ~%s\n", "P99 Value Size", units.BytesSize(float64(info.P99Size)))
	fmt.Printf("  %-24s: %d\n", "Cached Proxies", info.CachedProxies)
	if info.Hits+info.Misses > 0 {
		fmt.Printf("  %-24s: %d hits, %d misses, mean %s\n", "Interns", info.Hits, info.Misses, info.MeanIntern.Round(time.Microsecond))
	}
}
