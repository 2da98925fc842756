// Package walog implements the shadow write-ahead-log file the primary's
// replication logger appends to on every committed engine transaction: a
// flat file of fixed-size frames (a page plus a small header) preceded by
// one file header, written with positional I/O so a crash mid-append never
// corrupts anything already fsynced (spec.md §3/§4.G).
package walog

import (
	"encoding/binary"
	"hash/crc64"

	"github.com/google/uuid"
	"github.com/libsqlgo/sqld/internal/engine"
)

// magic identifies a wallog file; it is checked byte-for-byte on Open.
var magic = [8]byte{'S', 'Q', 'L', 'D', 'W', 'A', 'L', 0}

// Version is the only log file format version this package writes or
// reads; a mismatch triggers recovery (spec.md §4.I).
const Version uint32 = 2

// FrameSize is the on-disk size of one frame: its header plus a full page.
const FrameSize = frameHeaderSize + engine.PageSize

const (
	frameHeaderSize = 8 + 8 + 4 + 4 // frame_no, checksum, page_no, size_after
	fileHeaderSize  = 8 + 8 + 16 + 8 + 8 + 4 + 4 + 8
)

// crcTable is the CRC-64 table using the Go-ISO polynomial named explicitly
// by the replication log design.
var crcTable = crc64.MakeTable(crc64.ISO)

// Checksum folds page into the running checksum prev, matching the chain
// rule "next = CRC64_GO_ISO(prev, page_body)".
func Checksum(prev uint64, page []byte) uint64 {
	return crc64.Update(prev, crcTable, page)
}

// FrameHeader is the fixed-size header preceding every page body in the
// log.
type FrameHeader struct {
	FrameNo   uint64
	Checksum  uint64
	PageNo    uint32
	SizeAfter uint32
}

func (h FrameHeader) marshal() []byte {
	buf := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.FrameNo)
	binary.LittleEndian.PutUint64(buf[8:16], h.Checksum)
	binary.LittleEndian.PutUint32(buf[16:20], h.PageNo)
	binary.LittleEndian.PutUint32(buf[20:24], h.SizeAfter)
	return buf
}

func unmarshalFrameHeader(buf []byte) FrameHeader {
	return FrameHeader{
		FrameNo:   binary.LittleEndian.Uint64(buf[0:8]),
		Checksum:  binary.LittleEndian.Uint64(buf[8:16]),
		PageNo:    binary.LittleEndian.Uint32(buf[16:20]),
		SizeAfter: binary.LittleEndian.Uint32(buf[20:24]),
	}
}

// LogFileHeader is the fixed-size header at offset 0 of a wallog file.
type LogFileHeader struct {
	Magic         [8]byte
	StartChecksum uint64
	DbID          uuid.UUID
	StartFrameNo  uint64
	FrameCount    uint64
	Version       uint32
	PageSize      uint32
	EngineVersion [4]uint16
}

func newHeader(dbID uuid.UUID, startFrameNo, startChecksum uint64) LogFileHeader {
	return LogFileHeader{
		Magic:         magic,
		StartChecksum: startChecksum,
		DbID:          dbID,
		StartFrameNo:  startFrameNo,
		FrameCount:    0,
		Version:       Version,
		PageSize:      engine.PageSize,
	}
}

func (h LogFileHeader) marshal() []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint64(buf[8:16], h.StartChecksum)
	dbIDBytes, _ := h.DbID.MarshalBinary()
	copy(buf[16:32], dbIDBytes)
	binary.LittleEndian.PutUint64(buf[32:40], h.StartFrameNo)
	binary.LittleEndian.PutUint64(buf[40:48], h.FrameCount)
	binary.LittleEndian.PutUint32(buf[48:52], h.Version)
	binary.LittleEndian.PutUint32(buf[52:56], h.PageSize)
	for i, v := range h.EngineVersion {
		binary.LittleEndian.PutUint16(buf[56+i*2:58+i*2], v)
	}
	return buf
}

func unmarshalFileHeader(buf []byte) (LogFileHeader, error) {
	var h LogFileHeader
	copy(h.Magic[:], buf[0:8])
	h.StartChecksum = binary.LittleEndian.Uint64(buf[8:16])
	if err := h.DbID.UnmarshalBinary(buf[16:32]); err != nil {
		return LogFileHeader{}, err
	}
	h.StartFrameNo = binary.LittleEndian.Uint64(buf[32:40])
	h.FrameCount = binary.LittleEndian.Uint64(buf[40:48])
	h.Version = binary.LittleEndian.Uint32(buf[48:52])
	h.PageSize = binary.LittleEndian.Uint32(buf[52:56])
	for i := range h.EngineVersion {
		h.EngineVersion[i] = binary.LittleEndian.Uint16(buf[56+i*2 : 58+i*2])
	}
	return h, nil
}
