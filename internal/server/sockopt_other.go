//go:build !unix

package server

import "syscall"

func socketControl(network, address string, c syscall.RawConn) error {
	return nil
}
