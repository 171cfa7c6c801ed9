package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/paulschiretz/pgl-profile-backup/pkg/flagparse"
	"github.com/paulschiretz/pgl-profile-backup/pkg/orchestrator"
	"github.com/paulschiretz/pgl-profile-backup/pkg/volume"
)

// RunPreview prints where each selected folder would be stored.
func RunPreview(ctx context.Context, flagMap map[string]any) error {
	runConfig, err := loadRunConfig(flagparse.Preview, flagMap)
	if err != nil {
		return err
	}
	req, err := runConfig.Request()
	if err != nil {
		return err
	}

	planned, err := orchestrator.New(runConfig.OrchestratorConfig()).Preview(req)
	if err != nil {
		return err
	}
	printPreview(os.Stdout, runConfig.DestinationRoot, planned)
	return nil
}

func printPreview(out io.Writer, root string, planned []orchestrator.PlannedPair) {
	fmt.Fprintf(out, "Folder structure under %s:\n\n", root)
	for _, p := range planned {
		if p.Err != nil {
			fmt.Fprintf(out, "  %s\n    -> cannot be mapped: %v\n", p.Source, p.Err)
			continue
		}
		fmt.Fprintf(out, "  %s\n    -> %s\n", p.Source, p.Destination)
	}

	// The root may not exist yet; report the space of the closest existing parent.
	if free, err := volume.FreeSpace(existingParent(root)); err == nil {
		fmt.Fprintf(out, "\nFree space at destination: %s\n", humanize.IBytes(free))
	}
}

// existingParent returns p or the nearest ancestor of p that exists.
func existingParent(p string) string {
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
