package sftp

import "os"

// Protocol mode bits reported for listings and stats. The on-disk permission
// bits are not exposed; every entry is reported as a plain directory or a
// plain regular file, matching what drop clients expect.
const (
	modeDirectory = 0o040755
	modeRegular   = 0o100644
)

// fileAttrs is the subset of SFTP v3 attributes the server reports.
type fileAttrs struct {
	size  uint64
	mode  uint32
	atime uint32
	mtime uint32
}

func attrsFromInfo(info os.FileInfo) fileAttrs {
	mode := uint32(modeRegular)
	if info.IsDir() {
		mode = modeDirectory
	}
	// Access time is not portably available; report the modification time
	// for both, at the protocol's one-second resolution.
	ts := uint32(info.ModTime().Unix())
	return fileAttrs{
		size:  uint64(info.Size()),
		mode:  mode,
		atime: ts,
		mtime: ts,
	}
}

func (a fileAttrs) encode(e *encoder) {
	e.writeUint32(attrSize | attrPermissions | attrACModTime)
	e.writeUint64(a.size)
	e.writeUint32(a.mode)
	e.writeUint32(a.atime)
	e.writeUint32(a.mtime)
}

// encodeEmptyAttrs writes an attribute block with no fields set, used in
// REALPATH name responses where attributes are not meaningful.
func encodeEmptyAttrs(e *encoder) {
	e.writeUint32(0)
}
