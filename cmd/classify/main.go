// Command classify runs the damage pipeline on image files without the HTTP
// layer, for checking exported models.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/damagex-api/internal/app"
	"github.com/Brownie44l1/damagex-api/internal/config"
	"github.com/Brownie44l1/damagex-api/internal/domain"
	"github.com/Brownie44l1/damagex-api/internal/gatekeeper"
	"github.com/Brownie44l1/damagex-api/internal/logging"
)

var (
	configPath string
	verbose    bool

	colorRed    = color.New(color.FgRed, color.Bold)
	colorGreen  = color.New(color.FgGreen, color.Bold)
	colorYellow = color.New(color.FgYellow)
	colorCyan   = color.New(color.FgCyan)
)

var rootCmd = &cobra.Command{
	Use:           "classify [flags] IMAGE...",
	Short:         "Classify vehicle damage photos with the local models",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline stages")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		colorRed.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if verbose {
		if log, err = logging.New("debug", "console"); err != nil {
			return err
		}
	}

	a := app.New(cfg, log)
	defer a.Close()
	if err := a.Warm(); err != nil {
		return err
	}
	if !a.Gatekeepers.IsLoaded() {
		colorYellow.Printf("gatekeeper model not loaded, running %s\n\n", gatekeeper.PostureFor(cfg.Gatekeeper.FailClosed))
	}

	failed := 0
	for _, path := range args {
		if !classifyFile(cmd.Context(), a, path) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images could not be classified", failed, len(args))
	}
	return nil
}

func classifyFile(ctx context.Context, a *app.App, path string) bool {
	colorCyan.Printf("%s\n", filepath.Base(path))

	data, err := os.ReadFile(path)
	if err != nil {
		colorRed.Printf("  %v\n\n", err)
		return false
	}

	res, err := a.Pipeline.Classify(ctx, data)
	if err != nil {
		if domain.IsValidation(err) {
			colorYellow.Printf("  rejected: %s\n\n", domain.PublicMessage(err))
		} else {
			colorRed.Printf("  error: %v\n\n", err)
		}
		return false
	}

	colorGreen.Printf("  %s (%.1f%%)\n", res.Category, res.Confidence*100)

	names := make([]string, 0, len(res.Details))
	for name := range res.Details {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return res.Details[names[i]] > res.Details[names[j]] })
	for _, name := range names {
		score := res.Details[name]
		fmt.Printf("    %-16s %6.2f%% %s\n", name, score*100, strings.Repeat("█", int(score*30+0.5)))
	}
	fmt.Println()
	return true
}
