package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/mkv/lib/common"
	"github.com/ValentinKolb/mkv/lib/serde"
	"github.com/ValentinKolb/mkv/lib/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupEnvFlags adds the flags describing the Environment to a command
func SetupEnvFlags(cmd *cobra.Command) {
	defaults := store.DefaultConfig()

	key := "dir"
	cmd.PersistentFlags().String(key, "data", WrapString("Base directory of the environment"))

	key = "sub-dir"
	cmd.PersistentFlags().String(key, "", WrapString("Optional dedicated sub directory inside dir. A dedicated directory is removed entirely on delete"))

	key = "max-map-size"
	cmd.PersistentFlags().String(key, "1GiB", WrapString("Upper bound of the data file, at least 1MiB (e.g. 512MiB, 10G). Commits that would grow the file beyond it fail"))

	key = "max-tables"
	cmd.PersistentFlags().Int(key, defaults.MaxTables, WrapString("Maximum number of tables in the environment"))

	key = "max-readers"
	cmd.PersistentFlags().Int(key, defaults.MaxReaders, WrapString("Maximum number of concurrent read transactions"))

	key = "read-ahead"
	cmd.PersistentFlags().Bool(key, false, WrapString("Pre-fault the memory map when opening the environment"))

	key = "reader-blocked-by-writer"
	cmd.PersistentFlags().Bool(key, false, WrapString("Make readers wait while a write transaction is open. Requires auto-commit-elapsed > 0"))

	key = "no-sync"
	cmd.PersistentFlags().Bool(key, false, WrapString("Do not fsync on commit. Faster, but the last commits may be lost on a crash"))

	key = "queue-capacity"
	cmd.PersistentFlags().Int(key, defaults.QueueCapacity, WrapString("Number of write operations that may be queued before writers block"))

	key = "auto-commit-items"
	cmd.PersistentFlags().Int(key, defaults.AutoCommit.MaxItems, WrapString("Commit after this many applied write operations (0 disables)"))

	key = "auto-commit-elapsed"
	cmd.PersistentFlags().Duration(key, defaults.AutoCommit.MaxElapsed, WrapString("Commit when this much time passed since the last commit (0 disables)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("Level at which logs are written to stderr (debug, info, warn, error)"))
}

// InitConfig loads .env files and enables MKV_<FLAG> environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("mkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper and applies the log level
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// GetEnvDir reads the directory of the environment from viper
func GetEnvDir() store.EnvDir {
	return store.EnvDir{
		Base:   viper.GetString("dir"),
		SubDir: viper.GetString("sub-dir"),
	}
}

// GetEnvConfig reads the environment configuration from viper
func GetEnvConfig() (store.Config, error) {
	cfg := store.DefaultConfig()

	size, err := store.ParseSize(viper.GetString("max-map-size"))
	if err != nil {
		return cfg, err
	}
	cfg.MaxMapSize = size
	cfg.MaxTables = viper.GetInt("max-tables")
	cfg.MaxReaders = viper.GetInt("max-readers")
	cfg.ReadAhead = viper.GetBool("read-ahead")
	cfg.ReaderBlockedByWriter = viper.GetBool("reader-blocked-by-writer")
	cfg.QueueCapacity = viper.GetInt("queue-capacity")
	cfg.AutoCommit = store.AutoCommit{
		MaxItems:   viper.GetInt("auto-commit-items"),
		MaxElapsed: viper.GetDuration("auto-commit-elapsed"),
	}
	if viper.GetBool("no-sync") {
		cfg.Flags = cfg.Flags.With(store.FlagNoSync)
	}
	return cfg, cfg.Validate()
}

// OpenEnv builds the environment described by the flags
func OpenEnv() (*store.Env, error) {
	cfg, err := GetEnvConfig()
	if err != nil {
		return nil, err
	}
	return store.Build(GetEnvDir(), cfg)
}

// GetValueSerde returns the serde for the values of the table commands
func GetValueSerde(format string) (serde.Serde[any], error) {
	switch format {
	case "raw":
		return rawSerde{}, nil
	case "json":
		return serde.JSON[any]{}, nil
	case "msgpack":
		return serde.Msgpack[any]{}, nil
	case "cbor":
		return serde.CBOR[any]{}, nil
	default:
		return nil, fmt.Errorf("invalid value format %s (raw, json, msgpack, cbor)", format)
	}
}

// ParseValue converts a command line argument to a value of the given format.
// Structured formats expect the argument to be JSON.
func ParseValue(format, arg string) (any, error) {
	if format == "raw" {
		return arg, nil
	}
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return nil, fmt.Errorf("value must be valid JSON for format %s: %w", format, err)
	}
	return v, nil
}

// rawSerde stores string values as their bytes
type rawSerde struct{}

func (rawSerde) Serialize(dst []byte, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return dst, fmt.Errorf("raw values must be strings, got %T", v)
	}
	return serde.String{}.Serialize(dst, s)
}

func (rawSerde) Deserialize(b []byte) (any, error) {
	return serde.String{}.Deserialize(b)
}
