package fsutil

import (
	"fmt"
	"io"
	"os"
)

// CopyFile copies src to dst, overwriting dst, and carries over the
// permission bits and modification time of src.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("fsutil: stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("fsutil: %s is not a regular file", src)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("fsutil: open %s: %w", src, err)
	}
	defer in.Close()

	err = WriteAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, copyErr := io.Copy(w, in)
		return copyErr
	})
	if err != nil {
		return err
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("fsutil: preserve times on %s: %w", dst, err)
	}
	return nil
}
