package installer

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/rugix-project/rugix-ctrl/bootloader"
	"github.com/rugix-project/rugix-ctrl/bundle"
	"github.com/rugix-project/rugix-ctrl/config"
	"github.com/rugix-project/rugix-ctrl/hooks"
	"github.com/rugix-project/rugix-ctrl/system"
)

func sha512_256(data []byte) []byte {
	sum := sha512.Sum512_256(data)
	return sum[:]
}

// fakeFlow is a minimal bootloader.BootFlow test double recording the
// calls the installer makes against it.
type fakeFlow struct {
	preInstallGroup  string
	postInstallGroup string
	tryNextGroup     string
	failPreInstall   bool
}

func (f *fakeFlow) Name() bootloader.Kind { return "fake" }
func (f *fakeFlow) SetTryNext(group string) error {
	f.tryNextGroup = group
	return nil
}
func (f *fakeFlow) GetDefault() (string, error) { return "a", nil }
func (f *fakeFlow) Commit(group string) error   { return nil }
func (f *fakeFlow) PreInstall(group string) error {
	f.preInstallGroup = group
	if f.failPreInstall {
		return bootloader.ErrNotActive(group)
	}
	return nil
}
func (f *fakeFlow) PostInstall(group string) error {
	f.postInstallGroup = group
	return nil
}
func (f *fakeFlow) RemainingAttempts(group string) (int, error)      { return 3, nil }
func (f *fakeFlow) GetStatus(group string) (bootloader.Status, error) { return bootloader.Good, nil }
func (f *fakeFlow) MarkGood(group string) error                      { return nil }
func (f *fakeFlow) MarkBad(group string) error                       { return nil }

func testRegistry(t *testing.T) (*system.Registry, string, string) {
	t.Helper()
	dir := t.TempDir()
	slotA := filepath.Join(dir, "slot-a.img")
	slotB := filepath.Join(dir, "slot-b.img")
	require.NoError(t, os.WriteFile(slotA, nil, 0644))
	require.NoError(t, os.WriteFile(slotB, nil, 0644))

	cfg := &config.System{
		Slots: map[string]config.Slot{
			"boot-a": {Kind: config.SlotFile, Path: slotA},
			"boot-b": {Kind: config.SlotFile, Path: slotB},
		},
		BootGroups: map[string]config.BootGroup{
			"a": {Slots: map[string]string{"system": "boot-a"}},
			"b": {Slots: map[string]string{"system": "boot-b"}},
		},
	}
	reg := system.NewWithActiveGroup(cfg, "a")
	return reg, slotA, slotB
}

// buildSingleSlotBundle writes a minimal one-payload, uncompressed bundle
// file targeting the "system" alias and returns its path.
func buildSingleSlotBundle(t *testing.T, data []byte) string {
	t.Helper()
	const blockSize = 16
	return buildRawBundle(t, blockSize, uint16(bundle.HashSHA512_256), bundle.CompressionNone, data, uint64(len(data)))
}

// buildCompressedSlotBundle writes a single-payload bundle whose data blocks
// hold plain zstd-compressed to exercise the installer's decompress-then-
// stream path, which buildSingleSlotBundle's compression=none payloads never
// touch.
func buildCompressedSlotBundle(t *testing.T, plain []byte) string {
	t.Helper()
	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write(plain)
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	const blockSize = 16
	return buildRawBundle(t, blockSize, uint16(bundle.HashSHA512_256), bundle.CompressionZstd, compressed.Bytes(), uint64(len(plain)))
}

func TestInstallWritesIntoChosenGroupAndArmsTryNext(t *testing.T) {
	reg, slotA, _ := testRegistry(t)
	flow := &fakeFlow{}
	hookRunner := hooks.New(filepath.Join(t.TempDir(), "no-hooks"))

	payload := []byte("a complete system image payload, several blocks long")
	bundlePath := buildSingleSlotBundle(t, payload)

	opts := Options{BundlePath: bundlePath}
	group, err := Install(reg, flow, hookRunner, opts)
	require.NoError(t, err)
	require.Equal(t, "b", group) // "a" is active, so the installer chooses "b"

	require.Equal(t, "b", flow.preInstallGroup)
	require.Equal(t, "b", flow.postInstallGroup)
	require.Equal(t, "b", flow.tryNextGroup)

	written, err := os.ReadFile(slotA) // active slot untouched
	require.NoError(t, err)
	require.Empty(t, written)
}

func TestInstallFailsWhenPreInstallRejects(t *testing.T) {
	reg, _, _ := testRegistry(t)
	flow := &fakeFlow{failPreInstall: true}
	hookRunner := hooks.New(filepath.Join(t.TempDir(), "no-hooks"))

	bundlePath := buildSingleSlotBundle(t, []byte("payload"))
	_, err := Install(reg, flow, hookRunner, Options{BundlePath: bundlePath})
	require.Error(t, err)
}

func TestInstallHonorsExplicitTargetGroup(t *testing.T) {
	reg, _, slotB := testRegistry(t)
	flow := &fakeFlow{}
	hookRunner := hooks.New(filepath.Join(t.TempDir(), "no-hooks"))

	payload := []byte("explicit group payload")
	bundlePath := buildSingleSlotBundle(t, payload)

	group, err := Install(reg, flow, hookRunner, Options{BundlePath: bundlePath, TargetGroup: "b"})
	require.NoError(t, err)
	require.Equal(t, "b", group)

	data, err := os.ReadFile(slotB)
	require.NoError(t, err)
	require.Equal(t, payload, data[:len(payload)])
}

func TestInstallDecompressesZstdPayloadBeforeWriting(t *testing.T) {
	reg, _, slotB := testRegistry(t)
	flow := &fakeFlow{}
	hookRunner := hooks.New(filepath.Join(t.TempDir(), "no-hooks"))

	plain := []byte("a complete system image payload, stored zstd-compressed in the bundle")
	bundlePath := buildCompressedSlotBundle(t, plain)

	group, err := Install(reg, flow, hookRunner, Options{BundlePath: bundlePath, TargetGroup: "b"})
	require.NoError(t, err)
	require.Equal(t, "b", group)

	written, err := os.ReadFile(slotB)
	require.NoError(t, err)
	require.Equal(t, plain, written[:len(plain)])
}

// buildRawBundle below and sha512_256 above are a trimmed local copy of the
// bundle package's own test builder: installer tests need a real bundle on
// disk but must not depend on bundle's unexported test helpers across
// package boundaries.
func buildRawBundle(t *testing.T, blockSize uint32, hashAlgo uint16, compression bundle.Compression, data []byte, plainSize uint64) string {
	t.Helper()

	var blockHashes [][]byte
	for off := 0; off < len(data); off += int(blockSize) {
		end := off + int(blockSize)
		if end > len(data) {
			end = len(data)
		}
		blockHashes = append(blockHashes, sha512_256(data[off:end]))
	}
	nBlocks := uint64(len(blockHashes))

	slotRef := []byte("system")
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(slotRef)))

	rest := make([]byte, 1+1+8+8+8) // encoding=raw-block, compression, size, stored_size, nblocks
	rest[1] = byte(compression)
	binary.BigEndian.PutUint64(rest[2:10], plainSize)
	binary.BigEndian.PutUint64(rest[10:18], uint64(len(data)))
	binary.BigEndian.PutUint64(rest[18:26], nBlocks)

	var blockHashBytes []byte
	for _, bh := range blockHashes {
		blockHashBytes = append(blockHashBytes, bh...)
	}

	indexHash := sha512_256(concatBytes(lenBuf[:], slotRef, rest, blockHashBytes))

	var fixed [28]byte
	copy(fixed[:16], []byte("RUGIX-BUNDLE-v1 "))
	binary.BigEndian.PutUint16(fixed[16:18], 1)
	binary.BigEndian.PutUint16(fixed[18:20], hashAlgo)
	binary.BigEndian.PutUint32(fixed[20:24], blockSize)
	binary.BigEndian.PutUint32(fixed[24:28], 1)

	rootHash := sha512_256(concatBytes(fixed[:], indexHash))

	out := concatBytes(fixed[:], rootHash, lenBuf[:], slotRef, rest, blockHashBytes, data)

	path := filepath.Join(t.TempDir(), "bundle.rugix")
	require.NoError(t, os.WriteFile(path, out, 0644))
	return path
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
