package bundle

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// Encoding identifies how a payload's decompressed bytes map onto its
// target slot.
type Encoding uint8

const (
	EncodingRawBlock Encoding = 0
	EncodingRawFile  Encoding = 1
	EncodingTar      Encoding = 2
)

// Compression identifies the codec applied to a payload's blocks before
// hashing (hashes cover the compressed bytes, so tamper detection happens
// before any decompression work).
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionXZ   Compression = 1
	CompressionZstd Compression = 2
)

// payloadHeader is everything about a payload except its data blocks:
// the slot it targets and the per-block hashes that must be checked as
// its data is streamed.
type payloadHeader struct {
	SlotRef     string
	Encoding    Encoding
	Compression Compression
	Size        uint64 // uncompressed payload size (spec §6: "size: u64 (uncompressed)")
	StoredSize  uint64 // on-disk byte length of the payload's data blocks (equals Size when Compression is none)
	NBlocks     uint64
	BlockHashes [][]byte

	indexHash  []byte // hash(metadata || concat(block hashes))
	dataOffset int64  // offset of this payload's first data byte in the staged file
}

func readPayloadHeader(r io.Reader, algo HashAlgo) (payloadHeader, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return payloadHeader{}, rugixerr.New("bundle.readPayloadHeader", rugixerr.BundleMalformed, err)
	}
	slotRefLen := binary.BigEndian.Uint16(lenBuf[:])
	slotRefBytes := make([]byte, slotRefLen)
	if _, err := io.ReadFull(r, slotRefBytes); err != nil {
		return payloadHeader{}, rugixerr.New("bundle.readPayloadHeader", rugixerr.BundleMalformed, err)
	}

	rest := make([]byte, 1+1+8+8+8) // encoding, compression, size, stored_size, nblocks
	if _, err := io.ReadFull(r, rest); err != nil {
		return payloadHeader{}, rugixerr.New("bundle.readPayloadHeader", rugixerr.BundleMalformed, err)
	}

	p := payloadHeader{
		SlotRef:     string(slotRefBytes),
		Encoding:    Encoding(rest[0]),
		Compression: Compression(rest[1]),
		Size:        binary.BigEndian.Uint64(rest[2:10]),
		StoredSize:  binary.BigEndian.Uint64(rest[10:18]),
		NBlocks:     binary.BigEndian.Uint64(rest[18:26]),
	}

	hashSize := algo.size()
	blockHashBytes := make([]byte, int(p.NBlocks)*hashSize)
	if _, err := io.ReadFull(r, blockHashBytes); err != nil {
		return payloadHeader{}, rugixerr.New("bundle.readPayloadHeader", rugixerr.BundleMalformed, err)
	}
	for i := uint64(0); i < p.NBlocks; i++ {
		p.BlockHashes = append(p.BlockHashes, blockHashBytes[int(i)*hashSize:(int(i)+1)*hashSize])
	}

	h := algo.new()
	h.Write(lenBuf[:])
	h.Write(slotRefBytes)
	h.Write(rest)
	h.Write(blockHashBytes)
	p.indexHash = h.Sum(nil)

	return p, nil
}

func (p payloadHeader) String() string {
	return fmt.Sprintf("payload(slot=%s encoding=%d compression=%d size=%d stored_size=%d blocks=%d)",
		p.SlotRef, p.Encoding, p.Compression, p.Size, p.StoredSize, p.NBlocks)
}
