package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
)

// ExtractTarGz unpacks a gzip-compressed tarball, such as a Python sdist.
// Only directories and regular files are extracted.
func ExtractTarGz(r io.Reader, prefix string) (dir string, cleanup func(), err error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	d, err := newDest(prefix)
	if err != nil {
		return "", nil, err
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			d.cleanup()
			return "", nil, fmt.Errorf("failed to read tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = d.mkdir(hdr.Name)
		case tar.TypeReg:
			err = d.write(hdr.Name, tr)
		default:
			// Links, devices and pax metadata are not source.
			continue
		}
		if err != nil {
			d.cleanup()
			return "", nil, err
		}
	}

	return d.root, d.cleanup, nil
}
