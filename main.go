package main

import (
	"errors"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"usbctl/internal/config"
	"usbctl/internal/fsbackend"
	"usbctl/internal/lifecycle"
	"usbctl/internal/rawcopy"
	"usbctl/internal/safety"
	"usbctl/internal/sizeexpr"
)

var (
	// Version info (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Global flags
	cfgFile    string
	outputJSON bool
	assumeYes  bool
	verbose    bool

	cfg config.Config
	log zerolog.Logger
)

// Exit codes, stable for scripting.
const (
	exitOK         = 0
	exitRuntime    = 1
	exitConfig     = 2
	exitSafety     = 3
	exitPermission = 4
	exitBusy       = 5
)

var rootCmd = &cobra.Command{
	Use:   "usbctl",
	Short: "Removable-storage device lifecycle manager",
	Long: `usbctl inventories, formats, repairs, securely erases and images
removable block devices. Destructive operations re-check the device
against a fresh inventory immediately before touching it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return &lifecycle.ConfigError{Reason: err.Error()}
		}
		if assumeYes {
			cfg.AssumeYes = true
		}
		log = config.Logger(cfg, verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/usbctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip interactive confirmations")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(
		newListCmd(),
		newFormatCmd(),
		newRepairCmd(),
		newScanCmd(),
		newEraseCmd(),
		newImageCmd(),
		newVersionCmd(),
		newCompletionCmd(),
	)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	os.Exit(exitCodeFor(err))
}

// exitCodeFor maps the error taxonomy onto the documented exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var (
		configErr *lifecycle.ConfigError
		parseErr  *sizeexpr.ParseError
		violation *safety.Violation
		permErr   *lifecycle.PermissionError
	)
	switch {
	case errors.As(err, &configErr),
		errors.As(err, &parseErr),
		errors.Is(err, fsbackend.ErrUnsupportedFilesystem),
		errors.Is(err, rawcopy.ErrUnsupportedHash):
		return exitConfig
	case errors.As(err, &violation):
		return exitSafety
	case errors.As(err, &permErr):
		return exitPermission
	case errors.Is(err, lifecycle.ErrDeviceBusy):
		return exitBusy
	default:
		return exitRuntime
	}
}
