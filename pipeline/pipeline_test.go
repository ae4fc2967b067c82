package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iboots/Auto-Backpork-GUI/common"
	"github.com/iboots/Auto-Backpork-GUI/elfrw"
	"github.com/iboots/Auto-Backpork-GUI/selfrw"
)

func testImage(seed byte, size int) []byte {
	image := make([]byte, size)
	copy(image, elfrw.ELFMagic)
	for i := 4; i < size; i++ {
		image[i] = seed + byte(i)
	}
	return image
}

func signTestImage(t *testing.T, image []byte) []byte {
	t.Helper()
	pair, err := elfrw.PairByID(4)
	require.NoError(t, err)
	container, _, err := selfrw.Sign(image, selfrw.SigningParameters{
		Paid:  0x3100000000000002,
		PType: selfrw.PTypeFake,
		Pair:  pair,
	}, nil)
	require.NoError(t, err)
	return container
}

func decryptConfig() Config {
	return Config{
		Mode:      ModeDecrypt,
		InputDir:  "/in",
		OutputDir: "/out",
		Workers:   4,
	}
}

func TestRunDecryptBatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	imageA := testImage(1, 0x200)
	imageB := testImage(2, 0x300)
	require.NoError(t, afero.WriteFile(fs, "/in/a.self", signTestImage(t, imageA), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/sub/dir/b.self", signTestImage(t, imageB), 0o644))
	// Right magic, nothing else: discovery picks it up, decrypt rejects it.
	require.NoError(t, afero.WriteFile(fs, "/in/corrupt.self", []byte{0x3D, 0x1D, 0x3D, 0x1D, 0, 0, 0, 0}, 0o644))

	o, err := New(fs, decryptConfig())
	require.NoError(t, err)
	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Done())
	assert.Equal(t, 1, report.Failed())

	gotA, err := afero.ReadFile(fs, "/out/a.self")
	require.NoError(t, err)
	assert.Equal(t, imageA, gotA)

	// The output tree mirrors the input's relative layout.
	gotB, err := afero.ReadFile(fs, "/out/sub/dir/b.self")
	require.NoError(t, err)
	assert.Equal(t, imageB, gotB)

	for _, res := range report.Results {
		if res.Outcome == common.OutcomeFailed {
			assert.Equal(t, "decrypt", res.Stage)
			assert.Equal(t, "corrupt.self", res.Path)
		}
	}
}

func TestRunEmptyInput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/in", 0o755))

	o, err := New(fs, decryptConfig())
	require.NoError(t, err)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, 0, report.Failed())
}

func TestRunSkipsExistingOutput(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/a.self", signTestImage(t, testImage(1, 0x100)), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/a.self", []byte("stale"), 0o644))

	o, err := New(fs, decryptConfig())
	require.NoError(t, err)
	report, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, common.OutcomeSkipped, report.Results[0].Outcome)

	// Same run with overwrite replaces the stale file.
	cfg := decryptConfig()
	cfg.Overwrite = true
	o, err = New(fs, cfg)
	require.NoError(t, err)
	report, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Done())
}

func TestRunCanceledContext(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/a.self", signTestImage(t, testImage(1, 0x100)), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/b.self", signTestImage(t, testImage(2, 0x100)), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o, err := New(fs, decryptConfig())
	require.NoError(t, err)
	report, err := o.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, common.OutcomeSkipped, res.Outcome)
		assert.Equal(t, "canceled", res.Stage)
	}
}

func TestDiscoverFilters(t *testing.T) {
	fs := afero.NewMemMapFs()
	container := signTestImage(t, testImage(1, 0x100))
	require.NoError(t, afero.WriteFile(fs, "/in/a.self", container, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/a.self.bak", container, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/decrypted/b.self", container, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/readme.txt", []byte("not a binary"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/elf.bin", testImage(3, 0x80), 0o644))

	found, err := discover(fs, "/in", KindContainer)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.self"}, found)

	elfs, err := discover(fs, "/in", KindELF)
	require.NoError(t, err)
	assert.Equal(t, []string{"elf.bin"}, elfs)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Mode: ModeDowngrade}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input directory")
	assert.Contains(t, err.Error(), "output directory")
	assert.Contains(t, err.Error(), "paid")

	// Decrypt needs no signing parameters.
	cfg = decryptConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConfigWorkersClamp(t *testing.T) {
	assert.Equal(t, 1, (&Config{Workers: 0}).workers())
	assert.Equal(t, 1, (&Config{Workers: -3}).workers())
	assert.Equal(t, 8, (&Config{Workers: 8}).workers())
	assert.Equal(t, 16, (&Config{Workers: 99}).workers())
}

func TestParseMode(t *testing.T) {
	for want, name := range map[Mode]string{
		ModeDecrypt:   "decrypt",
		ModeDowngrade: "downgrade",
		ModeFull:      "full",
	} {
		mode, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
		assert.Equal(t, name, mode.String())
	}
	_, err := ParseMode("repack")
	require.Error(t, err)
}

func TestModeInputKind(t *testing.T) {
	assert.Equal(t, KindContainer, ModeDecrypt.inputKind())
	assert.Equal(t, KindELF, ModeDowngrade.inputKind())
	assert.Equal(t, KindContainer, ModeFull.inputKind())
}

func TestMergeFakelibs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/game1/eboot.bin", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/out/game2/patch/eboot.bin", []byte("x"), 0o644))

	o := &Orchestrator{
		fs:  fs,
		cfg: Config{OutputDir: "/out"},
		fakelib: selfrw.NewFakelibSet(map[string][]byte{
			"libSceFiber.sprx": []byte("stub-a"),
			"libScePad.sprx":   []byte("stub-b"),
		}),
	}
	report := &Report{}
	require.NoError(t, o.mergeFakelibs(report))

	assert.Equal(t, 6, report.FakelibCount)
	assert.Len(t, report.FakelibDirs, 3)
	for _, dir := range []string{"/out", "/out/game1", "/out/game2/patch"} {
		data, err := afero.ReadFile(fs, filepath.Join(dir, "fakelib", "libSceFiber.sprx"))
		require.NoError(t, err)
		assert.Equal(t, []byte("stub-a"), data)
	}
}

func TestLoadFakelibSet(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/stubs/libScePad.sprx", []byte("stub"), 0o644))
	require.NoError(t, fs.MkdirAll("/stubs/nested", 0o755))

	set, err := loadFakelibSet(fs, "/stubs")
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.True(t, set.Has("libScePad.sprx"))

	_, err = loadFakelibSet(fs, "/missing")
	require.Error(t, err)
}

func libcTestImage(pattern []byte) []byte {
	image := testImage(5, 0x100)
	copy(image[0x80:], pattern)
	return image
}

func TestLibcMaintenanceApply(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dir/libc.prx", libcTestImage(common.LibcOriginalPattern), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dir/other.elf", libcTestImage(nil), 0o644))

	statuses, err := LibcMaintenance(fs, "/dir", LibcApply)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byPath := make(map[string]LibcFileStatus, len(statuses))
	for _, st := range statuses {
		require.NoError(t, st.Err)
		byPath[st.Path] = st
	}
	assert.True(t, byPath["libc.prx"].Applied)
	assert.Equal(t, common.PatchStateOriginal, byPath["libc.prx"].State)
	assert.False(t, byPath["other.elf"].Applied)

	data, err := afero.ReadFile(fs, "/dir/libc.prx")
	require.NoError(t, err)
	assert.Equal(t, common.PatchStatePatched, common.CheckLibcPatch(data))
}

func TestLibcMaintenanceCheckNeverWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	before := libcTestImage(common.LibcPatchedPattern)
	require.NoError(t, afero.WriteFile(fs, "/dir/libc.prx", before, 0o644))

	statuses, err := LibcMaintenance(fs, "/dir", LibcCheck)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, common.PatchStatePatched, statuses[0].State)
	assert.False(t, statuses[0].Applied)

	after, err := afero.ReadFile(fs, "/dir/libc.prx")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestParseLibcAction(t *testing.T) {
	for name, want := range map[string]LibcAction{
		"apply":  LibcApply,
		"revert": LibcRevert,
		"check":  LibcCheck,
	} {
		action, err := ParseLibcAction(name)
		require.NoError(t, err)
		assert.Equal(t, want, action)
	}
	_, err := ParseLibcAction("undo")
	require.Error(t, err)
}
