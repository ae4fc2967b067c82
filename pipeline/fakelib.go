package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/iboots/Auto-Backpork-GUI/selfrw"
)

const (
	fakelibDirName = "fakelib"
	ebootName      = "eboot.bin"
)

// loadFakelibSet reads every regular file in the stub directory into a
// read-only set. Stubs are opaque pre-signed binaries; their contents
// are never inspected or modified.
func loadFakelibSet(fs afero.Fs, dir string) (*selfrw.FakelibSet, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	stubs := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := afero.ReadFile(fs, filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read stub %s: %w", entry.Name(), err)
		}
		stubs[entry.Name()] = data
	}
	return selfrw.NewFakelibSet(stubs), nil
}

// mergeFakelibs places the stub set into the output tree: once under the
// output root, and once next to every eboot.bin so each title resolves
// its stubs locally. Copy errors are aggregated; a partial merge still
// reports the placements that worked.
func (o *Orchestrator) mergeFakelibs(report *Report) error {
	if o.fakelib == nil || o.fakelib.Len() == 0 {
		return nil
	}

	destDirs := []string{o.cfg.OutputDir}
	err := afero.Walk(o.fs, o.cfg.OutputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if strings.EqualFold(info.Name(), ebootName) {
			dir := filepath.Dir(path)
			if dir != o.cfg.OutputDir {
				destDirs = append(destDirs, dir)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan output tree: %w", err)
	}

	var errs *multierror.Error
	for _, dir := range destDirs {
		if err := o.copyFakelibTo(dir); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		report.FakelibCount += o.fakelib.Len()
		report.FakelibDirs = append(report.FakelibDirs, filepath.Join(dir, fakelibDirName))
	}
	return errs.ErrorOrNil()
}

func (o *Orchestrator) copyFakelibTo(dir string) error {
	dest := filepath.Join(dir, fakelibDirName)
	if err := o.fs.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	for _, name := range o.fakelib.Names() {
		if err := afero.WriteFile(o.fs, filepath.Join(dest, name), o.fakelib.Stub(name), 0o644); err != nil {
			return fmt.Errorf("failed to place stub %s in %s: %w", name, dest, err)
		}
	}
	return nil
}
