// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"io"
	"net"
	"os"

	"github.com/kortschak/jsonrpc2"
)

// newNetListener returns a new Listener that listens on a socket using the
// net package. If dir is not empty, it is removed when the listener is
// closed.
func newNetListener(ctx context.Context, network, address, dir string, options jsonrpc2.NetListenOptions) (*netListener, error) {
	ln, err := options.NetListenConfig.Listen(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &netListener{net: ln, dir: dir}, nil
}

// netListener is a jsonrpc2.Listener for connections made using the net
// package. Unix sockets are removed on close.
type netListener struct {
	net net.Listener
	dir string
}

func (l *netListener) Addr() net.Addr {
	return l.net.Addr()
}

func (l *netListener) Accept(context.Context) (io.ReadWriteCloser, error) {
	return l.net.Accept()
}

// Close stops the listener. Connections that have already been accepted
// are not closed.
func (l *netListener) Close() error {
	addr := l.net.Addr()
	err := l.net.Close()
	if addr.Network() == "unix" {
		rerr := os.Remove(addr.String())
		if rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
	}
	if l.dir != "" {
		rerr := os.RemoveAll(l.dir)
		if rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func (l *netListener) Dialer() jsonrpc2.Dialer {
	return nil
}
