// wal.go implements the per-shard append-only metadata log described in
// §4.G.2 and framed per §6: each record is
// {u32 length, u64 timestamp, u8 op, {key[32], relPathLen, relPath,
// contentTypeLen, contentType, flags, estSize, createdAt, accessCountKey},
// u32 crc32}. length covers everything between itself and the trailing
// crc32. The reader tolerates a truncated trailing record (a torn write at
// the tail, consistent with §4.G.3's no-fsync-required write path).
package diskcache

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"time"

	"github.com/marmos91/imagecache/pkg/cachekey"
)

const walFileName = "log"

type walRecord struct {
	Timestamp time.Time
	Op        op
	Entry     Entry // valid fields depend on Op: Delete only needs Hash
}

// encodeRecord serializes r into the on-disk frame (without the leading
// length field, which the caller prepends after measuring the body).
func encodeRecord(r walRecord) []byte {
	body := make([]byte, 0, 128)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(r.Timestamp.UnixNano()))
	body = append(body, tsBuf[:]...)
	body = append(body, byte(r.Op))
	body = append(body, r.Entry.Hash[:]...)

	if r.Op == opUpsert {
		body = appendLenPrefixedString(body, r.Entry.RelativePath)
		body = appendLenPrefixedString(body, r.Entry.ContentType)
		body = append(body, byte(r.Entry.Flags))

		var rest [8 + 8 + 8]byte
		binary.LittleEndian.PutUint64(rest[0:8], uint64(r.Entry.EstDiskSize))
		binary.LittleEndian.PutUint64(rest[8:16], uint64(r.Entry.CreatedAt.UnixNano()))
		binary.LittleEndian.PutUint64(rest[16:24], r.Entry.AccessCountKey)
		body = append(body, rest[:]...)
	}

	crc := crc32.ChecksumIEEE(body)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))

	frame := make([]byte, 0, 4+len(body)+4)
	frame = append(frame, lenBuf[:]...)
	frame = append(frame, body...)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	frame = append(frame, crcBuf[:]...)
	return frame
}

func appendLenPrefixedString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, s...)
	return dst
}

// decodeRecord reads one framed record from r. It returns io.EOF when no
// more complete records remain, and a nil record (with ok=false, err=nil)
// when the trailing bytes form a truncated record that should be silently
// dropped rather than treated as corruption.
func decodeRecord(r *bufio.Reader) (walRecord, bool, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return walRecord{}, false, io.EOF
		}
		return walRecord{}, false, nil // truncated trailing record
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return walRecord{}, false, nil // truncated trailing record
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return walRecord{}, false, nil // truncated trailing record
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])
	if crc32.ChecksumIEEE(body) != wantCRC {
		return walRecord{}, false, nil // torn write, drop trailing record
	}

	rec, err := parseRecordBody(body)
	if err != nil {
		return walRecord{}, false, nil
	}
	return rec, true, nil
}

func parseRecordBody(body []byte) (walRecord, error) {
	if len(body) < 8+1+cachekey.Size {
		return walRecord{}, ErrCorruptShard
	}
	ts := time.Unix(0, int64(binary.LittleEndian.Uint64(body[0:8])))
	o := op(body[8])
	off := 9

	var keyBytes [cachekey.Size]byte
	copy(keyBytes[:], body[off:off+cachekey.Size])
	off += cachekey.Size
	key, err := cachekey.FromRaw32(keyBytes[:])
	if err != nil {
		return walRecord{}, err
	}

	rec := walRecord{Timestamp: ts, Op: o, Entry: Entry{Hash: key}}
	if o != opUpsert {
		return rec, nil
	}

	relPath, off2, err := readLenPrefixedString(body, off)
	if err != nil {
		return walRecord{}, err
	}
	off = off2

	contentType, off3, err := readLenPrefixedString(body, off)
	if err != nil {
		return walRecord{}, err
	}
	off = off3

	if off+1+24 > len(body) {
		return walRecord{}, ErrCorruptShard
	}
	flags := EntryFlag(body[off])
	off++
	estSize := int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	createdAt := time.Unix(0, int64(binary.LittleEndian.Uint64(body[off:off+8])))
	off += 8
	accessCountKey := binary.LittleEndian.Uint64(body[off : off+8])

	rec.Entry.RelativePath = relPath
	rec.Entry.ContentType = contentType
	rec.Entry.Flags = flags
	rec.Entry.EstDiskSize = estSize
	rec.Entry.CreatedAt = createdAt
	rec.Entry.AccessCountKey = accessCountKey
	return rec, nil
}

func readLenPrefixedString(body []byte, off int) (string, int, error) {
	if off+2 > len(body) {
		return "", 0, ErrCorruptShard
	}
	n := int(binary.LittleEndian.Uint16(body[off : off+2]))
	off += 2
	if off+n > len(body) {
		return "", 0, ErrCorruptShard
	}
	return string(body[off : off+n]), off + n, nil
}

// replayLog reads every record in path (if it exists) and returns the
// reconstructed hash -> Entry index, tolerating a truncated trailing
// record.
func replayLog(path string) (map[cachekey.Key]*Entry, error) {
	index := make(map[cachekey.Key]*Entry)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		rec, ok, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			break // truncated trailing record; stop here
		}
		switch rec.Op {
		case opUpsert:
			e := rec.Entry
			index[e.Hash] = &e
		case opDelete:
			delete(index, rec.Entry.Hash)
		}
	}
	return index, nil
}

// appendLog opens path for append, writing frame. The caller is
// responsible for serializing concurrent appenders (the shard's write
// lock).
func appendLog(path string, frame []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(frame)
	return err
}
