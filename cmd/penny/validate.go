package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skribblez2718/penny-sub000/internal/config"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate workflow definitions",
		Long: `Validate workflow definition files without running anything.

Each path may be a YAML or TOML file or a directory of them. With no path the
configured workflows directory is checked. Every definition is compiled and
registered, so duplicate workflow IDs across files are reported too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				cfg, err := config.LoadWithFile(cmd.Flag("config").Value.String())
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				dir, err := config.ExpandPath(cfg.Workflows.Dir)
				if err != nil {
					return err
				}
				paths = []string{dir}
			}

			files, err := definitionFiles(paths)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no workflow definitions found in %s", strings.Join(paths, ", "))
			}

			out := cmd.OutOrStdout()
			reg := phasegraph.NewRegistry()
			failed := 0
			for _, f := range files {
				def, err := phasegraph.LoadFile(f)
				if err == nil {
					err = reg.Register(def)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "✗ %s: %v\n", f, err)
					continue
				}
				fmt.Fprintf(out, "✓ %s (%s, %d phases)\n", def.ID, f, len(def.Phases))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(files))
			}
			return nil
		},
	}
}

// definitionFiles expands directories into their definition files.
func definitionFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".yaml", ".yml", ".toml":
				names = append(names, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(names)
		files = append(files, names...)
	}
	return files, nil
}
