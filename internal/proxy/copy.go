package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// ErrorKind identifies which leg of a forward failed.
type ErrorKind int

const (
	LocalRead ErrorKind = iota + 1
	LocalWrite
	RemoteRead
	RemoteWrite
)

func (k ErrorKind) String() string {
	switch k {
	case LocalRead:
		return "local read"
	case LocalWrite:
		return "local write"
	case RemoteRead:
		return "remote read"
	case RemoteWrite:
		return "remote write"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// ForwardError is a read or write failure on one leg of a forward.
type ForwardError struct {
	Kind ErrorKind
	Err  error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// Totals counts bytes forwarded in each direction.
type Totals struct {
	// Sent is local to remote.
	Sent int64
	// Received is remote to local.
	Received int64
}

// CopyBidirectional splices local and remote until the first direction ends,
// by EOF or error, then closes both connections and waits for the other
// direction to unwind. A clean EOF returns a nil error. Canceling ctx closes
// both connections.
func CopyBidirectional(ctx context.Context, local, remote net.Conn, bp *BufferPool) (Totals, error) {
	if bp == nil {
		bp = NewBufferPool(DefaultBufferSize)
	}

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = local.Close()
			_ = remote.Close()
		})
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var t Totals
	done := make(chan error, 2)

	go func() {
		var err error
		t.Sent, err = copyHalf(remote, local, bp, LocalRead, RemoteWrite)
		done <- err
	}()

	go func() {
		var err error
		t.Received, err = copyHalf(local, remote, bp, RemoteRead, LocalWrite)
		done <- err
	}()

	err := <-done
	closeBoth()
	// The other direction now fails on the closed connection; its error is
	// not interesting.
	<-done

	return t, err
}

func copyHalf(dst io.Writer, src io.Reader, bp *BufferPool, readKind, writeKind ErrorKind) (int64, error) {
	bufp := bp.Get()
	defer bp.Put(bufp)
	buf := *bufp

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, &ForwardError{Kind: writeKind, Err: werr}
			}
			if nw != nr {
				return written, &ForwardError{Kind: writeKind, Err: io.ErrShortWrite}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, &ForwardError{Kind: readKind, Err: rerr}
		}
	}
}
