package anvil

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// extractArchive unpacks src into dest, choosing the decompressor from the
// filename. Tarballs whose entries all live under a single top-level
// directory are stripped one level so dest holds the tree directly.
func extractArchive(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	lower := strings.ToLower(src)

	switch {
	case strings.HasSuffix(lower, ".zip"):
		return unzipGo(src, dest)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTar(src, dest, func(r io.Reader) (io.Reader, func(), error) {
			zr, err := pgzip.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() { zr.Close() }, nil
		})
	case strings.HasSuffix(lower, ".tar.xz"):
		return extractTar(src, dest, func(r io.Reader) (io.Reader, func(), error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return xr, func() {}, nil
		})
	case strings.HasSuffix(lower, ".tar.zst"):
		return extractTar(src, dest, func(r io.Reader) (io.Reader, func(), error) {
			zr, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return zr, func() { zr.Close() }, nil
		})
	case strings.HasSuffix(lower, ".tar.bz2"):
		return extractTar(src, dest, func(r io.Reader) (io.Reader, func(), error) {
			return bzip2.NewReader(r), func() {}, nil
		})
	case strings.HasSuffix(lower, ".tar"):
		return extractTar(src, dest, func(r io.Reader) (io.Reader, func(), error) {
			return r, func() {}, nil
		})
	}
	return fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
}

type decompressor func(io.Reader) (io.Reader, func(), error)

func extractTar(src, dest string, wrap decompressor) error {
	strip, err := tarHasSingleTopDir(src, wrap)
	if err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, done, err := wrap(f)
	if err != nil {
		return err
	}
	defer done()

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := header.Name
		if strip {
			if idx := strings.IndexByte(name, '/'); idx >= 0 {
				name = name[idx+1:]
			} else {
				continue
			}
		}
		if name == "" {
			continue
		}

		fpath := filepath.Join(absDest, name)
		// Path traversal guard.
		if !strings.HasPrefix(fpath, absDest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fpath, os.FileMode(header.Mode).Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
				return err
			}
			_ = os.Remove(fpath)
			if err := os.Symlink(header.Linkname, fpath); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// tarHasSingleTopDir reports whether every entry lives under one top-level
// directory, in which case extraction strips that component.
func tarHasSingleTopDir(src string, wrap decompressor) (bool, error) {
	f, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer f.Close()

	reader, done, err := wrap(f)
	if err != nil {
		return false, err
	}
	defer done()

	topDir := ""
	tr := tar.NewReader(reader)
	// Checking a bounded number of entries is enough evidence and keeps
	// this fast for huge archives.
	for i := 0; i < 200; i++ {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return false, err
		}
		name := strings.TrimPrefix(header.Name, "./")
		if name == "" {
			continue
		}
		idx := strings.IndexByte(name, '/')
		if idx < 0 {
			if header.Typeflag == tar.TypeDir {
				idx = len(name)
			} else {
				return false, nil
			}
		}
		top := name[:idx]
		if topDir == "" {
			topDir = top
		} else if top != topDir {
			return false, nil
		}
	}
	return topDir != "", nil
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Security Check: Prevent Zip Slip path traversal attacks.
		// Ensure the file path is within the destination directory.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close files inside the loop to avoid holding too many file descriptors.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}
