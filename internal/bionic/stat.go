// Package bionic mirrors the Android libc stat constants used by the sync
// protocol's mode field.
package bionic

const (
	S_IFMT   = 0xf000
	S_IFIFO  = 0x1000
	S_IFCHR  = 0x2000
	S_IFDIR  = 0x4000
	S_IFBLK  = 0x6000
	S_IFREG  = 0x8000
	S_IFLNK  = 0xa000
	S_IFSOCK = 0xc000

	S_ISUID = 0x800
	S_ISGID = 0x400
	S_ISVTX = 0x200

	S_IRWXU = 0x1c0
	S_IRUSR = 0x100
	S_IWUSR = 0x80
	S_IXUSR = 0x40
	S_IRWXG = 0x38
	S_IRGRP = 0x20
	S_IWGRP = 0x10
	S_IXGRP = 0x8
	S_IRWXO = 0x7
	S_IROTH = 0x4
	S_IWOTH = 0x2
	S_IXOTH = 0x1
)

// IsDir reports whether mode has the directory type bits.
func IsDir(mode uint32) bool {
	return mode&S_IFMT == S_IFDIR
}

// IsRegular reports whether mode has the regular-file type bits.
func IsRegular(mode uint32) bool {
	return mode&S_IFMT == S_IFREG
}

// IsSymlink reports whether mode has the symlink type bits.
func IsSymlink(mode uint32) bool {
	return mode&S_IFMT == S_IFLNK
}
