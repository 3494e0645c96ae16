package adbproto

import (
	"fmt"
	"io/fs"
	"strings"
)

// Errno is a Linux errno as adbd reports it. Sync v1 FAIL responses carry the
// strerror text rather than the number; [ErrnoFromMessage] maps it back.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/sysdeps/errno.cpp;drc=af6fae67a49070ca75c26ceed5759576eb4d3573
type Errno uint32

const (
	EACCES       Errno = 13
	EEXIST       Errno = 17
	EFAULT       Errno = 14
	EFBIG        Errno = 27
	EINTR        Errno = 4
	EINVAL       Errno = 22
	EIO          Errno = 5
	EISDIR       Errno = 21
	ELOOP        Errno = 40
	EMFILE       Errno = 24
	ENAMETOOLONG Errno = 36
	ENFILE       Errno = 23
	ENOENT       Errno = 2
	ENOMEM       Errno = 12
	ENOSPC       Errno = 28
	ENOTDIR      Errno = 20
	EOVERFLOW    Errno = 75
	EPERM        Errno = 1
	EROFS        Errno = 30
	ETXTBSY      Errno = 26
)

// errnoText is the strerror text bionic uses for each errno.
var errnoText = map[Errno]string{
	EACCES:       "Permission denied",
	EEXIST:       "File exists",
	EFAULT:       "Bad address",
	EFBIG:        "File too large",
	EINTR:        "Interrupted system call",
	EINVAL:       "Invalid argument",
	EIO:          "I/O error",
	EISDIR:       "Is a directory",
	ELOOP:        "Too many symbolic links encountered",
	EMFILE:       "Too many open files",
	ENAMETOOLONG: "File name too long",
	ENFILE:       "File table overflow",
	ENOENT:       "No such file or directory",
	ENOMEM:       "Out of memory",
	ENOSPC:       "No space left on device",
	ENOTDIR:      "Not a directory",
	EOVERFLOW:    "Value too large for defined data type",
	EPERM:        "Operation not permitted",
	EROFS:        "Read-only file system",
	ETXTBSY:      "Text file busy",
}

func (e Errno) Error() string {
	if s, ok := errnoText[e]; ok {
		return s
	}
	return fmt.Sprintf("errno %d", uint32(e))
}

func (e Errno) Is(target error) bool {
	switch target {
	case fs.ErrInvalid:
		return e == EINVAL
	case fs.ErrPermission:
		return e == EACCES || e == EPERM
	case fs.ErrExist:
		return e == EEXIST
	case fs.ErrNotExist:
		return e == ENOENT
	}
	return false
}

// ErrnoFromMessage recovers the errno behind a device failure message. adbd
// prefixes the strerror text with context ("open failed: ..."), so only the
// part after the last ": " is matched.
func ErrnoFromMessage(msg string) (Errno, bool) {
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	for e, s := range errnoText {
		if s == msg {
			return e, true
		}
	}
	return 0, false
}
