package idle

import (
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/screensaver"
	"github.com/jezek/xgb/xproto"
	"github.com/pkg/errors"
)

// xssBackend queries the MIT-SCREEN-SAVER X extension directly over
// the X protocol. The connection opened at selection time is reused
// for the process lifetime.
type xssBackend struct {
	conn *xgb.Conn
	root xproto.Window
}

// newXSSBackend connects to the X server and initializes the
// screensaver extension. Returns nil when no display is reachable or
// the extension is missing.
func newXSSBackend() backend {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil
	}

	if err := screensaver.Init(conn); err != nil {
		conn.Close()
		return nil
	}

	root := xproto.Setup(conn).DefaultScreen(conn).Root
	return &xssBackend{conn: conn, root: root}
}

func (b *xssBackend) Name() string { return "x11-screensaver-ext" }

func (b *xssBackend) selfTest() error {
	_, err := b.query()
	return errors.Wrap(err, "screensaver query failed")
}

func (b *xssBackend) IdleMs() int64 {
	ms, err := b.query()
	if err != nil {
		return 0
	}
	return ms
}

func (b *xssBackend) query() (int64, error) {
	reply, err := screensaver.QueryInfo(b.conn, xproto.Drawable(b.root)).Reply()
	if err != nil {
		return 0, err
	}
	return int64(reply.MsSinceUserInput), nil
}
