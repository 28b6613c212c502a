//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package termhost

import "golang.org/x/sys/unix"

const (
	ioctlReadTermios  = unix.TIOCGETA
	ioctlWriteTermios = unix.TIOCSETA
)
