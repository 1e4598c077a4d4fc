package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// Reader is a verified, lazy, single-pass iterator over a bundle's
// payloads. It is not restartable: once Next has returned every payload,
// or once Close is called, the Reader is spent.
type Reader struct {
	file    *os.File
	cleanup func()
	Header  Header
	headers []payloadHeader

	next int // index into headers of the payload Next() will open
}

// Open stages path (a filesystem path, or "-" for stdin), verifies the
// entire Merkle tree rooted at the bundle's header against
// expectedRootHash (the operator's --verify-bundle argument; pass nil to
// trust the header's own embedded root_hash with no external check), and
// returns a Reader positioned at the first payload.
//
// Per spec §4.2, verification happens in full before a single payload
// data block is returned: the header and every payload's block-hash list
// are read in one pass (bounded by metadata size, not payload size), the
// whole tree's root is recomputed and compared, and only on a match does
// the Reader allow streaming payload data.
func Open(path string, expectedRootHash []byte) (*Reader, error) {
	f, cleanup, err := stage(path)
	if err != nil {
		return nil, err
	}

	header, err := readHeader(f)
	if err != nil {
		cleanup()
		return nil, err
	}

	if expectedRootHash != nil && !bytes.Equal(expectedRootHash, header.RootHash) {
		cleanup()
		return nil, rugixerr.New("bundle.Open", rugixerr.BundleTamper,
			fmt.Errorf("operator-supplied root hash does not match bundle header"))
	}

	headers := make([]payloadHeader, 0, header.NPayloads)
	for i := uint32(0); i < header.NPayloads; i++ {
		ph, err := readPayloadHeader(f, header.HashAlgo)
		if err != nil {
			cleanup()
			return nil, err
		}
		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			cleanup()
			return nil, rugixerr.New("bundle.Open", rugixerr.IoError, err)
		}
		ph.dataOffset = offset

		dataLen := int64(ph.NBlocks) * int64(header.BlockSize)
		if ph.NBlocks > 0 {
			lastBlockLen := ph.StoredSize - uint64(ph.NBlocks-1)*uint64(header.BlockSize)
			dataLen = int64(ph.NBlocks-1)*int64(header.BlockSize) + int64(lastBlockLen)
		}
		if _, err := f.Seek(dataLen, io.SeekCurrent); err != nil {
			cleanup()
			return nil, rugixerr.New("bundle.Open", rugixerr.IoError, err)
		}

		headers = append(headers, ph)
	}

	if err := verifyRoot(header, headers); err != nil {
		cleanup()
		return nil, err
	}

	if _, err := f.Seek(int64(headerFixed)+int64(header.HashAlgo.size()), io.SeekStart); err != nil {
		cleanup()
		return nil, rugixerr.New("bundle.Open", rugixerr.IoError, err)
	}

	return &Reader{file: f, cleanup: cleanup, Header: header, headers: headers}, nil
}

// verifyRoot recomputes the header's root hash from the fixed header
// fields plus every payload's index hash and compares it against the
// value embedded in the header itself, rejecting the bundle with
// BundleTamper on any mismatch, per spec §4.2 step 1.
func verifyRoot(header Header, headers []payloadHeader) error {
	h := header.HashAlgo.new()

	var fixed [headerFixed]byte
	copy(fixed[:magicLen], []byte(magic))
	binary.BigEndian.PutUint16(fixed[16:18], header.Version)
	binary.BigEndian.PutUint16(fixed[18:20], uint16(header.HashAlgo))
	binary.BigEndian.PutUint32(fixed[20:24], header.BlockSize)
	binary.BigEndian.PutUint32(fixed[24:28], header.NPayloads)
	h.Write(fixed[:])

	for _, ph := range headers {
		h.Write(ph.indexHash)
	}

	if !bytes.Equal(h.Sum(nil), header.RootHash) {
		return rugixerr.New("bundle.verifyRoot", rugixerr.BundleTamper,
			fmt.Errorf("recomputed root hash does not match header"))
	}
	return nil
}

// Payload describes one verified-metadata payload, ready to stream.
type Payload struct {
	SlotRef     string
	Encoding    Encoding
	Compression Compression
	Size        uint64

	reader *Reader
	header payloadHeader
}

// Next advances to the next payload, or returns (nil, io.EOF) once every
// payload has been consumed.
func (r *Reader) Next() (*Payload, error) {
	if r.next >= len(r.headers) {
		return nil, io.EOF
	}
	ph := r.headers[r.next]
	r.next++
	return &Payload{
		SlotRef:     ph.SlotRef,
		Encoding:    ph.Encoding,
		Compression: ph.Compression,
		Size:        ph.Size,
		reader:      r,
		header:      ph,
	}, nil
}

// Blocks returns a BlockReader over p's verified, decompressed bytes. It
// may be called at most once per Payload.
func (p *Payload) Blocks() (*BlockReader, error) {
	if _, err := p.reader.file.Seek(p.header.dataOffset, io.SeekStart); err != nil {
		return nil, rugixerr.New("bundle.Payload.Blocks", rugixerr.IoError, err)
	}

	var raw io.Reader = &payloadRawReader{
		payload: p,
		file:    p.reader.file,
	}

	switch p.Compression {
	case CompressionNone:
		// raw already yields verified, uncompressed bytes
	case CompressionXZ:
		xr, err := xz.NewReader(raw)
		if err != nil {
			return nil, rugixerr.New("bundle.Payload.Blocks", rugixerr.BundleMalformed, err)
		}
		raw = xr
	case CompressionZstd:
		zr, err := zstd.NewReader(raw)
		if err != nil {
			return nil, rugixerr.New("bundle.Payload.Blocks", rugixerr.BundleMalformed, err)
		}
		raw = zr
	default:
		return nil, rugixerr.New("bundle.Payload.Blocks", rugixerr.BundleMalformed,
			fmt.Errorf("unknown compression %d", p.Compression))
	}

	return &BlockReader{r: raw}, nil
}

// payloadRawReader reads p's data blocks in order, hashing each
// (possibly compressed) block against its expected hash before handing
// its bytes onward — the point at which tampering would be caught, ahead
// of any decompression, per spec §4.2 step 4.
type payloadRawReader struct {
	payload  *Payload
	file     *os.File
	blockIdx uint64
	pending  []byte
}

func (pr *payloadRawReader) Read(out []byte) (int, error) {
	if len(pr.pending) == 0 {
		if pr.blockIdx >= pr.payload.header.NBlocks {
			return 0, io.EOF
		}
		block, err := pr.readVerifiedBlock(pr.blockIdx)
		if err != nil {
			return 0, err
		}
		pr.pending = block
		pr.blockIdx++
	}

	n := copy(out, pr.pending)
	pr.pending = pr.pending[n:]
	return n, nil
}

func (pr *payloadRawReader) readVerifiedBlock(idx uint64) ([]byte, error) {
	ph := pr.payload.header
	blockSize := pr.payload.reader.Header.BlockSize

	length := int64(blockSize)
	if idx == ph.NBlocks-1 {
		length = int64(ph.StoredSize) - int64(idx)*int64(blockSize)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(pr.file, buf); err != nil {
		return nil, rugixerr.New("bundle.readVerifiedBlock", rugixerr.IoError, err)
	}

	h := pr.payload.reader.Header.HashAlgo.new()
	h.Write(buf)
	if !bytes.Equal(h.Sum(nil), ph.BlockHashes[idx]) {
		return nil, rugixerr.New("bundle.readVerifiedBlock", rugixerr.BundleTamper,
			fmt.Errorf("block %d of payload %q failed hash verification", idx, ph.SlotRef))
	}

	return buf, nil
}

// BlockReader streams a Payload's decompressed, verified bytes.
type BlockReader struct {
	r io.Reader
}

func (br *BlockReader) Read(p []byte) (int, error) {
	return br.r.Read(p)
}

// Close releases the staged bundle file. It is safe to call multiple
// times.
func (r *Reader) Close() error {
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
	return nil
}
