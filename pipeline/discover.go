package pipeline

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/iboots/Auto-Backpork-GUI/elfrw"
	"github.com/iboots/Auto-Backpork-GUI/selfrw"
)

// FileKind classifies a discovered file by its magic bytes.
type FileKind int

const (
	KindOther FileKind = iota
	KindELF
	KindContainer
)

// skipDirName is pruned during discovery; it holds a previous run's
// decrypted intermediates.
const skipDirName = "decrypted"

// sniffKind reads the first four bytes of a file and classifies it.
// Unreadable or short files are KindOther.
func sniffKind(fs afero.Fs, path string) FileKind {
	f, err := fs.Open(path)
	if err != nil {
		return KindOther
	}
	defer func(f afero.File) {
		_ = f.Close()
	}(f)

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return KindOther
	}
	switch {
	case string(magic[:]) == string(elfrw.ELFMagic):
		return KindELF
	case selfrw.IsContainer(magic[:]):
		return KindContainer
	}
	return KindOther
}

// discover walks the input tree and returns the relative paths of every
// file of the wanted kind, in walk order. Backup files and decrypted/
// directories are skipped.
func discover(fs afero.Fs, root string, want FileKind) ([]string, error) {
	var found []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if strings.EqualFold(info.Name(), skipDirName) && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(info.Name(), ".bak") {
			return nil
		}
		if sniffKind(fs, path) != want {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		found = append(found, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
