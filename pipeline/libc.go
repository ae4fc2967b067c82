package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/iboots/Auto-Backpork-GUI/common"
)

// LibcAction is one of the in-place libc maintenance operations.
type LibcAction int

const (
	LibcApply LibcAction = iota
	LibcRevert
	LibcCheck
)

// ParseLibcAction resolves an action name from the command line.
func ParseLibcAction(name string) (LibcAction, error) {
	switch name {
	case "apply":
		return LibcApply, nil
	case "revert":
		return LibcRevert, nil
	case "check":
		return LibcCheck, nil
	}
	return 0, fmt.Errorf("unknown libc action %q", name)
}

// LibcFileStatus is the per-file record of a maintenance run.
type LibcFileStatus struct {
	Path    string
	State   common.PatchState
	Applied bool
	Err     error
}

// LibcMaintenance runs the libc patch action in place over every raw
// ELF image under dir, plus any file literally named libc.prx. The
// signatures live in plaintext bytes, so encrypted containers are not
// useful targets. Check never writes; apply and revert rewrite matching
// files atomically.
func LibcMaintenance(fs afero.Fs, dir string, action LibcAction) ([]LibcFileStatus, error) {
	targets, err := discover(fs, dir, KindELF)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	seen := make(map[string]bool, len(targets))
	for _, rel := range targets {
		seen[rel] = true
	}
	// The system libc ships outside the container format on some dumps.
	err = afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if !strings.EqualFold(info.Name(), "libc.prx") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if !seen[rel] {
			seen[rel] = true
			targets = append(targets, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}

	statuses := make([]LibcFileStatus, 0, len(targets))
	for _, rel := range targets {
		statuses = append(statuses, libcProcessOne(fs, dir, rel, action))
	}
	return statuses, nil
}

func libcProcessOne(fs afero.Fs, dir, rel string, action LibcAction) LibcFileStatus {
	status := LibcFileStatus{Path: rel}
	path := filepath.Join(dir, rel)

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		status.Err = err
		return status
	}
	status.State = common.CheckLibcPatch(data)
	if action == LibcCheck {
		return status
	}

	var pr common.PatchResult
	if action == LibcApply {
		pr, err = common.ApplyLibcPatch(data)
	} else {
		pr, err = common.RevertLibcPatch(data)
	}
	if err != nil {
		status.Err = err
		return status
	}
	if !pr.Applied {
		return status
	}

	tmpPath := path + ".partial"
	if err := afero.WriteFile(fs, tmpPath, pr.Image, 0o644); err != nil {
		status.Err = err
		return status
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		status.Err = err
		return status
	}
	status.Applied = true
	return status
}
