package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"usbctl/internal/blockdev"
	"usbctl/internal/fsbackend"
	"usbctl/internal/lifecycle"
	"usbctl/internal/rawcopy"
	"usbctl/internal/sizeexpr"
)

// newListCmd creates the list command. It is the only command that works
// without root.
func newListCmd() *cobra.Command {
	var all bool
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List block devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.InventoryWait)
			defer cancel()
			devices, err := blockdev.List(ctx, blockdev.Options{IncludeVirtual: all})
			if err != nil {
				return err
			}
			switch {
			case outputJSON || output == "json":
				data, err := json.MarshalIndent(devices, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
			case output == "yaml":
				data, err := yaml.Marshal(devices)
				if err != nil {
					return err
				}
				fmt.Print(string(data))
			default:
				printDeviceTable(devices)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include loop and rom devices")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output format (json|yaml)")
	return cmd
}

// newFormatCmd creates the format command
func newFormatCmd() *cobra.Command {
	var device, fs, label string
	var force bool
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Partition a device and create a fresh filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("format"); err != nil {
				return err
			}
			if _, err := fsbackend.Resolve(fs); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if err := confirmDestruction(ctx, "Formatting", device, force); err != nil {
				return err
			}
			out, err := runOperation(func(d *lifecycle.Dispatcher) (lifecycle.Outcome, error) {
				return d.Format(ctx, lifecycle.FormatRequest{
					Device: device, Filesystem: fs, Label: label, Force: force,
				})
			})
			if err != nil {
				return err
			}
			color.Green("Formatted %s as %s in %s", device, fs, out.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device path (e.g. /dev/sdb)")
	cmd.Flags().StringVar(&fs, "fs", "", "filesystem: "+strings.Join(fsbackend.Kinds(), ", "))
	cmd.Flags().StringVar(&label, "label", "", "volume label")
	cmd.Flags().BoolVar(&force, "force", false, "override removability and root-disk checks")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("fs")
	return cmd
}

// newRepairCmd creates the repair command
func newRepairCmd() *cobra.Command {
	var device string
	var force bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Run the filesystem consistency check on a partition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("repair"); err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if err := confirmRepair(ctx, device); err != nil {
				return err
			}
			out, err := runOperation(func(d *lifecycle.Dispatcher) (lifecycle.Outcome, error) {
				return d.Repair(ctx, lifecycle.RepairRequest{Device: device, Force: force})
			})
			if err != nil {
				return err
			}
			color.Green("Repair of %s completed in %s", device, out.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target partition path (e.g. /dev/sdb1)")
	cmd.Flags().BoolVar(&force, "force", false, "override removability and root-disk checks")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

// newScanCmd creates the scan command
func newScanCmd() *cobra.Command {
	var device, blockSizeExpr string
	var force bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a destructive bad-block surface scan (write and verify)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("scan"); err != nil {
				return err
			}
			var blockSize int64
			if blockSizeExpr != "" {
				var err error
				if blockSize, err = sizeexpr.ParseSize(blockSizeExpr); err != nil {
					return err
				}
			}
			ctx, cancel := signalContext()
			defer cancel()

			if err := confirmDestruction(ctx, "Scanning", device, force); err != nil {
				return err
			}
			out, err := runOperation(func(d *lifecycle.Dispatcher) (lifecycle.Outcome, error) {
				return d.Scan(ctx, lifecycle.ScanRequest{
					Device: device, BlockSize: blockSize, Force: force,
				})
			})
			if err != nil {
				return err
			}
			if out.ErrorCount > 0 {
				color.Yellow("%d bad blocks found on %s", out.ErrorCount, device)
			} else {
				color.Green("No bad blocks found on %s (%s)", device, out.Duration.Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device path (e.g. /dev/sdb)")
	cmd.Flags().StringVar(&blockSizeExpr, "block-size", "", "test block size (expression with K/M/G suffix)")
	cmd.Flags().BoolVar(&force, "force", false, "override removability and root-disk checks")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

// newEraseCmd creates the erase command
func newEraseCmd() *cobra.Command {
	var device, passesExpr, blockSizeExpr string
	var zero, random, force bool
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Securely overwrite an entire device",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("erase"); err != nil {
				return err
			}
			if zero && random {
				return &lifecycle.ConfigError{Reason: "--zero and --random are mutually exclusive"}
			}
			passes, err := sizeexpr.ParsePasses(passesExpr)
			if err != nil {
				return err
			}
			blockSize := cfg.BlockSize
			if blockSizeExpr != "" {
				if blockSize, err = sizeexpr.ParseSize(blockSizeExpr); err != nil {
					return err
				}
			}
			ctx, cancel := signalContext()
			defer cancel()

			if err := confirmDestruction(ctx, "Erasing", device, force); err != nil {
				return err
			}
			out, err := runOperation(func(d *lifecycle.Dispatcher) (lifecycle.Outcome, error) {
				return d.Erase(ctx, lifecycle.EraseRequest{
					Device: device, Passes: passes, BlockSize: blockSize,
					Random: random, Force: force,
				})
			})
			if err != nil {
				return err
			}
			color.Green("Erased %s: %d passes, %s written in %s",
				device, out.Passes, humanize.IBytes(uint64(out.BytesProcessed)), out.Duration.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "target device path (e.g. /dev/sdb)")
	cmd.Flags().BoolVar(&zero, "zero", false, "fill with zeros (default)")
	cmd.Flags().BoolVar(&random, "random", false, "fill with cryptographically random data")
	cmd.Flags().StringVar(&passesExpr, "passes", "1", "number of overwrite passes (arithmetic expression)")
	cmd.Flags().StringVar(&blockSizeExpr, "block-size", "", "write block size (expression with K/M/G suffix)")
	cmd.Flags().BoolVar(&force, "force", false, "override removability and root-disk checks")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

// newImageCmd creates the image command
func newImageCmd() *cobra.Command {
	var source, dest, blockSizeExpr, reportPath string
	var count int64
	var hashes []string
	var verifyOnly, resilient, force bool
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Copy a device to an image file with digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireRoot("image"); err != nil {
				return err
			}
			if dest == "" && !verifyOnly {
				return &lifecycle.ConfigError{Reason: "--dest is required unless --verify-only is set"}
			}
			if count < 0 {
				return &lifecycle.ConfigError{Reason: fmt.Sprintf("--count must not be negative, got %d", count)}
			}
			blockSize := cfg.BlockSize
			if blockSizeExpr != "" {
				var err error
				if blockSize, err = sizeexpr.ParseSize(blockSizeExpr); err != nil {
					return err
				}
			}
			if len(hashes) == 0 {
				hashes = cfg.Hashes
			}
			ctx, cancel := signalContext()
			defer cancel()

			if strings.HasPrefix(dest, "/dev/") && !verifyOnly {
				if err := confirmDestruction(ctx, "Restoring an image onto", dest, force); err != nil {
					return err
				}
			}
			out, err := runOperation(func(d *lifecycle.Dispatcher) (lifecycle.Outcome, error) {
				return d.Image(ctx, lifecycle.ImageRequest{
					Source: source, Dest: dest,
					BlockSize: blockSize, BlockCount: count,
					Hashes: hashes, Resilient: resilient,
					VerifyOnly: verifyOnly,
					ReportDir:  reportDirFor(reportPath, dest, verifyOnly),
					Force:      force,
				})
			})
			if err != nil {
				return err
			}

			if out.ErrorCount > 0 {
				color.Yellow("%d unreadable blocks were zero-filled", out.ErrorCount)
			}
			for _, algo := range sortedKeys(out.Digests) {
				fmt.Printf("%s  %s\n", algo, out.Digests[algo])
			}
			if out.ReportPath != "" {
				fmt.Printf("report: %s\n", out.ReportPath)
			}
			color.Green("Processed %s in %s",
				humanize.IBytes(uint64(out.BytesProcessed)), out.Duration.Round(time.Second))
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source device or file path")
	cmd.Flags().StringVar(&dest, "dest", "", "destination image or device path")
	cmd.Flags().StringVar(&blockSizeExpr, "block-size", "", "copy block size (expression with K/M/G suffix)")
	cmd.Flags().Int64Var(&count, "count", 0, "copy exactly this many blocks, zero-padding past EOF")
	cmd.Flags().StringSliceVar(&hashes, "hash", nil, "digests to compute: "+strings.Join(rawcopy.Algorithms(), ", "))
	cmd.Flags().BoolVar(&verifyOnly, "verify-only", false, "read and hash the source without writing")
	cmd.Flags().BoolVar(&resilient, "resilient", false, "zero-fill unreadable blocks instead of aborting")
	cmd.Flags().StringVar(&reportPath, "report", "", "directory for the JSON run report")
	cmd.Flags().BoolVar(&force, "force", false, "override removability and root-disk checks")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show usbctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("usbctl version %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}
}

// newCompletionCmd creates the completion command
func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion script",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return rootCmd.GenBashCompletion(os.Stdout)
			case "zsh":
				return rootCmd.GenZshCompletion(os.Stdout)
			case "fish":
				return rootCmd.GenFishCompletion(os.Stdout, true)
			case "powershell":
				return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
			}
			return fmt.Errorf("unsupported shell: %s", args[0])
		},
	}
}

// Helper functions

func printError(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
}

func requireRoot(op string) error {
	if os.Geteuid() != 0 {
		return &lifecycle.PermissionError{Op: op}
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runOperation wires a dispatcher to a progress bar for the duration of one
// operation.
func runOperation(run func(d *lifecycle.Dispatcher) (lifecycle.Outcome, error)) (lifecycle.Outcome, error) {
	reporter := lifecycle.NewReporter(0)
	d := lifecycle.New(log, reporter)
	done := renderProgress(reporter)
	out, err := run(d)
	reporter.Close()
	<-done
	return out, err
}

// renderProgress consumes dispatcher events until the reporter closes. A new
// bar starts whenever the pass number changes.
func renderProgress(reporter *lifecycle.Reporter) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		var bar *progressbar.ProgressBar
		pass := -1
		for ev := range reporter.Events() {
			if ev.BytesTotal == 0 {
				continue
			}
			if bar == nil || ev.Pass != pass {
				pass = ev.Pass
				desc := ev.Phase
				if ev.PassCount > 0 {
					desc = fmt.Sprintf("%s pass %d/%d", ev.Phase, ev.Pass, ev.PassCount)
				}
				bar = progressbar.DefaultBytes(ev.BytesTotal, desc)
			}
			_ = bar.Set64(ev.BytesCompleted)
		}
		if bar != nil {
			_ = bar.Finish()
			fmt.Println()
		}
	}()
	return done
}

// test seam
var probeDevice = blockdev.Probe

func deviceSummary(ctx context.Context, devicePath string) blockdev.Device {
	dev, err := probeDevice(ctx, devicePath)
	if err != nil {
		// the safety gate produces the authoritative refusal
		dev = blockdev.Device{Name: filepath.Base(devicePath), Path: devicePath, Removable: true}
	}
	fmt.Printf("  Device:    %s\n", dev.Path)
	fmt.Printf("  Model:     %s\n", dev.Model)
	fmt.Printf("  Size:      %s\n", humanize.IBytes(dev.SizeBytes))
	fmt.Printf("  Removable: %v\n\n", dev.Removable)
	return dev
}

// confirmDestruction shows what is about to be destroyed and asks. Writing
// to a non-removable device under --force additionally requires typing the
// device name.
func confirmDestruction(ctx context.Context, action, devicePath string, force bool) error {
	color.Red("\nWARNING: %s %s will DESTROY ALL DATA on it", action, devicePath)
	dev := deviceSummary(ctx, devicePath)

	if cfg.AssumeYes {
		return nil
	}

	confirm := false
	if err := survey.AskOne(&survey.Confirm{Message: "Do you want to continue?", Default: false}, &confirm); err != nil {
		return err
	}
	if !confirm {
		return &lifecycle.ConfigError{Reason: "aborted by operator"}
	}

	if force && !dev.Removable {
		typed := ""
		prompt := &survey.Input{
			Message: fmt.Sprintf("This is not a removable device. Type '%s' to confirm:", dev.Name),
		}
		if err := survey.AskOne(prompt, &typed); err != nil {
			return err
		}
		if typed != dev.Name {
			return &lifecycle.ConfigError{Reason: "confirmation did not match the device name"}
		}
	}
	return nil
}

// confirmRepair is the milder gate for repair: the fsck tools rewrite
// filesystem structures, so the operator still sees what they are touching.
func confirmRepair(ctx context.Context, devicePath string) error {
	color.Yellow("\nRepair may modify filesystem structures on %s", devicePath)
	deviceSummary(ctx, devicePath)

	if cfg.AssumeYes {
		return nil
	}
	confirm := false
	if err := survey.AskOne(&survey.Confirm{Message: "Do you want to continue?", Default: false}, &confirm); err != nil {
		return err
	}
	if !confirm {
		return &lifecycle.ConfigError{Reason: "aborted by operator"}
	}
	return nil
}

// reportDirFor picks where the JSON run report lands: the explicit flag, the
// configured directory, or next to a regular-file destination.
func reportDirFor(flag, dest string, verifyOnly bool) string {
	if flag != "" {
		return flag
	}
	if cfg.ReportDir != "" {
		return cfg.ReportDir
	}
	if dest != "" && !strings.HasPrefix(dest, "/dev/") && !verifyOnly {
		return filepath.Dir(dest)
	}
	return "."
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printDeviceTable(devices []blockdev.Device) {
	if len(devices) == 0 {
		fmt.Println("no block devices found")
		return
	}
	printDeviceRow("NAME", "SIZE", "BUS", "MODEL", "RM", "FSTYPE", "MOUNTPOINT", "USED")
	for _, d := range devices {
		printDevice(d, "")
		for i, c := range d.Children {
			prefix := "├─"
			if i == len(d.Children)-1 {
				prefix = "└─"
			}
			printDevice(c, prefix)
		}
	}
}

func printDevice(d blockdev.Device, prefix string) {
	removable := ""
	if d.Removable {
		removable = "*"
	}
	used := ""
	if d.Usage != nil {
		used = fmt.Sprintf("%s used, %s free",
			humanize.IBytes(d.Usage.UsedBytes), humanize.IBytes(d.Usage.FreeBytes))
	}
	printDeviceRow(prefix+d.Name, humanize.IBytes(d.SizeBytes), d.Bus, d.Model, removable, d.FSType, d.Mountpoint, used)
}

func printDeviceRow(cols ...string) {
	fmt.Printf("%-16s %-10s %-6s %-24s %-3s %-8s %-20s %s\n",
		cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6], cols[7])
}
