package adbsync

import (
	"bytes"
	"context"
	"io"
	"io/fs"
)

type fsImpl struct {
	c   *Client
	ctx context.Context
}

var (
	_ fs.FS         = (*fsImpl)(nil)
	_ fs.StatFS     = (*fsImpl)(nil)
	_ fs.ReadDirFS  = (*fsImpl)(nil)
	_ fs.ReadFileFS = (*fsImpl)(nil)
	_ fs.File       = (*fsFile)(nil)
)

// FS adapts the client to [io/fs.FS]. The context bounds every operation on
// the returned filesystem.
func FS(ctx context.Context, c *Client) fs.FS {
	return &fsImpl{c, ctx}
}

func (f *fsImpl) transform(op, name string) (string, error) {
	if name == "." {
		return "/", nil
	}
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return "/" + name, nil
}

func (f *fsImpl) Stat(name string) (fs.FileInfo, error) {
	path, err := f.transform("stat", name)
	if err != nil {
		return nil, err
	}
	fi, err := f.c.Stat(f.ctx, path)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return fi, nil
}

func (f *fsImpl) ReadDir(name string) ([]fs.DirEntry, error) {
	path, err := f.transform("readdir", name)
	if err != nil {
		return nil, err
	}
	entries, err := f.c.List(f.ctx, path)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	de := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		de[i] = e
	}
	return de, nil
}

func (f *fsImpl) ReadFile(name string) ([]byte, error) {
	path, err := f.transform("open", name)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.c.Recv(f.ctx, path, &buf, nil); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return buf.Bytes(), nil
}

func (f *fsImpl) Open(name string) (fs.File, error) {
	path, err := f.transform("open", name)
	if err != nil {
		return nil, err
	}
	fi, err := f.c.Stat(f.ctx, path)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	ff := &fsFile{fs: f, name: name, path: path, fi: fi}
	return ff, nil
}

// fsFile reads the whole file on the first Read; the sync protocol has no
// seek or partial-read request.
type fsFile struct {
	fs   *fsImpl
	name string
	path string
	fi   *FileInfo
	r    io.Reader
}

func (f *fsFile) Stat() (fs.FileInfo, error) {
	return f.fi, nil
}

func (f *fsFile) Read(p []byte) (int, error) {
	if f.fi.IsDir() {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrInvalid}
	}
	if f.r == nil {
		var buf bytes.Buffer
		if err := f.fs.c.Recv(f.fs.ctx, f.path, &buf, nil); err != nil {
			return 0, &fs.PathError{Op: "read", Path: f.name, Err: err}
		}
		f.r = &buf
	}
	return f.r.Read(p)
}

func (f *fsFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !f.fi.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: f.name, Err: fs.ErrInvalid}
	}
	de, err := f.fs.ReadDir(f.name)
	if err != nil {
		return nil, err
	}
	if n > 0 && n < len(de) {
		de = de[:n]
	}
	return de, nil
}

func (f *fsFile) Close() error {
	f.r = nil
	return nil
}
