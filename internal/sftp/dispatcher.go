package sftp

import (
	"context"
	"errors"
	"io"
	"os"
	"syscall"

	"github.com/dropgate/dropgate/internal/metrics"
	"github.com/dropgate/dropgate/internal/notify"
	"go.uber.org/zap"
)

// session is the per-connection state: one account, one sandbox, one handle
// table. It is created after authentication and owns every descriptor the
// connection opens; Serve's teardown releases them all in one place.
type session struct {
	accountID string
	sandbox   *sandbox
	handles   *handleTable
	pipeline  *notify.Pipeline
	guard     *notify.Guard
	logger    *zap.Logger
}

func newSession(accountID, accountRoot string, pipeline *notify.Pipeline, logger *zap.Logger) (*session, error) {
	sb, err := newSandbox(accountRoot)
	if err != nil {
		return nil, err
	}
	return &session{
		accountID: accountID,
		sandbox:   sb,
		handles:   newHandleTable(),
		pipeline:  pipeline,
		guard:     notify.NewGuard(),
		logger:    logger,
	}, nil
}

// Serve runs the request loop over one SFTP subsystem channel until the
// client disconnects. Every per-request failure is answered with a protocol
// status; only transport or framing errors end the loop.
func (s *session) Serve(ch io.ReadWriter) error {
	defer s.handles.closeAll()
	defer s.logger.Debug("sftp stream torn down")

	// The first packet must be INIT; answer with our protocol version.
	typ, _, err := readPacket(ch)
	if err != nil {
		return err
	}
	if typ != msgInit {
		return errors.New("expected SSH_FXP_INIT")
	}
	version := newEncoder(4)
	version.writeUint32(protocolVersion)
	if err := writePacket(ch, msgVersion, version.bytes()); err != nil {
		return err
	}

	for {
		typ, payload, err := readPacket(ch)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		d := newDecoder(payload)
		reqID, err := d.readUint32()
		if err != nil {
			return errors.New("request without id")
		}

		if err := s.dispatch(ch, typ, reqID, d); err != nil {
			return err
		}
	}
}

// dispatch handles one request. The returned error is a transport write
// failure only; request-level failures have already been translated to a
// status response.
func (s *session) dispatch(ch io.Writer, typ byte, reqID uint32, d *decoder) error {
	switch typ {
	case msgRealpath:
		return s.handleRealpath(ch, reqID, d)
	case msgStat, msgLstat:
		return s.handleStat(ch, typ, reqID, d)
	case msgOpendir:
		return s.handleOpendir(ch, reqID, d)
	case msgReaddir:
		return s.handleReaddir(ch, reqID, d)
	case msgOpen:
		return s.handleOpen(ch, reqID, d)
	case msgRead:
		return s.handleRead(ch, reqID, d)
	case msgWrite:
		return s.handleWrite(ch, reqID, d)
	case msgClose:
		return s.handleClose(ch, reqID, d)
	case msgMkdir:
		return s.handleMkdir(ch, reqID, d)
	case msgRemove, msgRmdir:
		return s.handleRemove(ch, typ, reqID, d)
	case msgSetstat:
		return s.handleSetstat(ch, reqID, d)
	case msgFsetstat:
		return s.handleFsetstat(ch, reqID, d)
	default:
		return s.sendStatus(ch, "unsupported", reqID, statusOpUnsupported)
	}
}

func (s *session) handleRealpath(ch io.Writer, reqID uint32, d *decoder) error {
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "realpath", reqID, statusBadMessage)
	}

	// Resolution only; REALPATH never touches the filesystem.
	_, virtual, err := s.sandbox.resolve(path)
	if err != nil {
		return s.sendStatus(ch, "realpath", reqID, statusPermissionDenied)
	}

	e := newEncoder(32 + 2*len(virtual))
	e.writeUint32(reqID)
	e.writeUint32(1)
	e.writeString(virtual)
	e.writeString(virtual)
	encodeEmptyAttrs(e)
	metrics.RecordRequest("realpath", "ok")
	return writePacket(ch, msgName, e.bytes())
}

func (s *session) handleStat(ch io.Writer, typ byte, reqID uint32, d *decoder) error {
	op := "stat"
	if typ == msgLstat {
		op = "lstat"
	}
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, op, reqID, statusBadMessage)
	}

	abs, _, err := s.sandbox.resolve(path)
	if err != nil {
		return s.sendStatus(ch, op, reqID, statusPermissionDenied)
	}

	var info os.FileInfo
	if typ == msgLstat {
		info, err = os.Lstat(abs)
	} else {
		info, err = os.Stat(abs)
	}
	if err != nil {
		return s.sendStatus(ch, op, reqID, statusNoSuchFile)
	}

	e := newEncoder(32)
	e.writeUint32(reqID)
	attrsFromInfo(info).encode(e)
	metrics.RecordRequest(op, "ok")
	return writePacket(ch, msgAttrs, e.bytes())
}

func (s *session) handleOpendir(ch io.Writer, reqID uint32, d *decoder) error {
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "opendir", reqID, statusBadMessage)
	}

	abs, _, err := s.sandbox.resolve(path)
	if err != nil {
		return s.sendStatus(ch, "opendir", reqID, statusPermissionDenied)
	}

	token, err := s.handles.openDir(abs)
	if err != nil {
		return s.sendStatus(ch, "opendir", reqID, statusNoSuchFile)
	}
	return s.sendHandle(ch, "opendir", reqID, token)
}

func (s *session) handleReaddir(ch io.Writer, reqID uint32, d *decoder) error {
	token, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "readdir", reqID, statusBadMessage)
	}

	page, err := s.handles.readDir(token)
	if errors.Is(err, ErrInvalidHandle) {
		return s.sendStatus(ch, "readdir", reqID, statusFailure)
	}
	if errors.Is(err, io.EOF) {
		return s.sendStatus(ch, "readdir", reqID, statusEOF)
	}

	e := newEncoder(64 * len(page))
	e.writeUint32(reqID)
	e.writeUint32(uint32(len(page)))
	for _, entry := range page {
		e.writeString(entry.name)
		e.writeString(entry.name)
		attrsFromInfo(entry.info).encode(e)
	}
	metrics.RecordRequest("readdir", "ok")
	return writePacket(ch, msgName, e.bytes())
}

func (s *session) handleOpen(ch io.Writer, reqID uint32, d *decoder) error {
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "open", reqID, statusBadMessage)
	}
	pflags, err := d.readUint32()
	if err != nil {
		return s.sendStatus(ch, "open", reqID, statusBadMessage)
	}
	if err := d.skipAttrs(); err != nil {
		return s.sendStatus(ch, "open", reqID, statusBadMessage)
	}

	abs, virtual, err := s.sandbox.resolve(path)
	if err != nil {
		return s.sendStatus(ch, "open", reqID, statusPermissionDenied)
	}

	token, err := s.handles.openFile(abs, virtual, pflags)
	if err != nil {
		return s.sendStatus(ch, "open", reqID, statusFailure)
	}
	return s.sendHandle(ch, "open", reqID, token)
}

func (s *session) handleRead(ch io.Writer, reqID uint32, d *decoder) error {
	token, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "read", reqID, statusBadMessage)
	}
	offset, err := d.readUint64()
	if err != nil {
		return s.sendStatus(ch, "read", reqID, statusBadMessage)
	}
	length, err := d.readUint32()
	if err != nil {
		return s.sendStatus(ch, "read", reqID, statusBadMessage)
	}
	if length > maxPacket {
		length = maxPacket
	}

	data, err := s.handles.readAt(token, offset, length)
	if errors.Is(err, ErrInvalidHandle) {
		return s.sendStatus(ch, "read", reqID, statusFailure)
	}
	if errors.Is(err, io.EOF) {
		return s.sendStatus(ch, "read", reqID, statusEOF)
	}
	if err != nil {
		return s.sendStatus(ch, "read", reqID, statusFailure)
	}

	e := newEncoder(8 + len(data))
	e.writeUint32(reqID)
	e.writeBytes(data)
	metrics.RecordRequest("read", "ok")
	return writePacket(ch, msgData, e.bytes())
}

func (s *session) handleWrite(ch io.Writer, reqID uint32, d *decoder) error {
	token, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "write", reqID, statusBadMessage)
	}
	offset, err := d.readUint64()
	if err != nil {
		return s.sendStatus(ch, "write", reqID, statusBadMessage)
	}
	data, err := d.readBytes()
	if err != nil {
		return s.sendStatus(ch, "write", reqID, statusBadMessage)
	}

	if err := s.handles.writeAt(token, offset, data); err != nil {
		return s.sendStatus(ch, "write", reqID, statusFailure)
	}
	metrics.RecordBytesUploaded(len(data))
	return s.sendStatus(ch, "write", reqID, statusOK)
}

func (s *session) handleClose(ch io.Writer, reqID uint32, d *decoder) error {
	token, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "close", reqID, statusBadMessage)
	}

	if s.handles.isFile(token) {
		h, err := s.handles.closeFile(token)
		// The CLOSE response reflects the filesystem close alone;
		// notification delivery happens off this path.
		if h != nil && h.wrote {
			s.pipeline.FileReceived(context.Background(), s.guard, s.accountID, h.virtualPath, h.absPath)
		}
		if err != nil {
			return s.sendStatus(ch, "close", reqID, statusFailure)
		}
		return s.sendStatus(ch, "close", reqID, statusOK)
	}

	if err := s.handles.closeDir(token); err != nil {
		return s.sendStatus(ch, "close", reqID, statusFailure)
	}
	return s.sendStatus(ch, "close", reqID, statusOK)
}

func (s *session) handleMkdir(ch io.Writer, reqID uint32, d *decoder) error {
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "mkdir", reqID, statusBadMessage)
	}
	if err := d.skipAttrs(); err != nil {
		return s.sendStatus(ch, "mkdir", reqID, statusBadMessage)
	}

	abs, _, err := s.sandbox.resolve(path)
	if err != nil {
		return s.sendStatus(ch, "mkdir", reqID, statusPermissionDenied)
	}

	// MkdirAll keeps MKDIR idempotent and creates missing intermediates.
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return s.sendStatus(ch, "mkdir", reqID, statusFailure)
	}
	return s.sendStatus(ch, "mkdir", reqID, statusOK)
}

func (s *session) handleRemove(ch io.Writer, typ byte, reqID uint32, d *decoder) error {
	op := "remove"
	if typ == msgRmdir {
		op = "rmdir"
	}
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, op, reqID, statusBadMessage)
	}

	abs, _, err := s.sandbox.resolve(path)
	if err != nil {
		return s.sendStatus(ch, op, reqID, statusPermissionDenied)
	}

	if typ == msgRmdir {
		info, statErr := os.Lstat(abs)
		if statErr != nil {
			return s.sendStatus(ch, op, reqID, statusNoSuchFile)
		}
		if !info.IsDir() {
			return s.sendStatus(ch, op, reqID, statusNoSuchFile)
		}
	}

	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return s.sendStatus(ch, op, reqID, statusNoSuchFile)
		}
		// Non-empty directories get the same status as missing ones.
		if typ == msgRmdir && errors.Is(err, syscall.ENOTEMPTY) {
			return s.sendStatus(ch, op, reqID, statusNoSuchFile)
		}
		return s.sendStatus(ch, op, reqID, statusFailure)
	}
	return s.sendStatus(ch, op, reqID, statusOK)
}

// handleSetstat validates the path and acknowledges without applying
// attribute changes. Permission and timestamp updates from drop clients are
// deliberately ignored.
func (s *session) handleSetstat(ch io.Writer, reqID uint32, d *decoder) error {
	path, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "setstat", reqID, statusBadMessage)
	}
	if err := d.skipAttrs(); err != nil {
		return s.sendStatus(ch, "setstat", reqID, statusBadMessage)
	}

	if _, _, err := s.sandbox.resolve(path); err != nil {
		return s.sendStatus(ch, "setstat", reqID, statusPermissionDenied)
	}
	return s.sendStatus(ch, "setstat", reqID, statusOK)
}

// handleFsetstat validates the handle and acknowledges without applying
// attribute changes.
func (s *session) handleFsetstat(ch io.Writer, reqID uint32, d *decoder) error {
	token, err := d.readString()
	if err != nil {
		return s.sendStatus(ch, "fsetstat", reqID, statusBadMessage)
	}
	if err := d.skipAttrs(); err != nil {
		return s.sendStatus(ch, "fsetstat", reqID, statusBadMessage)
	}

	if !s.handles.isFile(token) {
		return s.sendStatus(ch, "fsetstat", reqID, statusFailure)
	}
	return s.sendStatus(ch, "fsetstat", reqID, statusOK)
}

var statusMessages = map[uint32]string{
	statusOK:               "success",
	statusEOF:              "end of file",
	statusNoSuchFile:       "no such file",
	statusPermissionDenied: "permission denied",
	statusFailure:          "failure",
	statusBadMessage:       "bad message",
	statusOpUnsupported:    "operation unsupported",
}

// sendStatus answers a request with a bare protocol status. The message is
// the generic text for the code; internal error detail never crosses the
// wire.
func (s *session) sendStatus(ch io.Writer, op string, reqID, code uint32) error {
	label := "ok"
	if code != statusOK && code != statusEOF {
		label = "error"
	}
	metrics.RecordRequest(op, label)

	e := newEncoder(32)
	e.writeUint32(reqID)
	e.writeUint32(code)
	e.writeString(statusMessages[code])
	e.writeString("en")
	return writePacket(ch, msgStatus, e.bytes())
}

func (s *session) sendHandle(ch io.Writer, op string, reqID uint32, token string) error {
	metrics.RecordRequest(op, "ok")
	e := newEncoder(16)
	e.writeUint32(reqID)
	e.writeString(token)
	return writePacket(ch, msgHandle, e.bytes())
}
