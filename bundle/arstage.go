package bundle

import (
	"io"
	"os"

	"github.com/rugix-project/rugix-ctrl/rugixerr"
)

// stage returns a seekable *os.File for path, copying stdin ("-") to a
// temporary file first since the Merkle verification pass in Open needs
// random access to reach each payload's data section a second time.
//
// This mirrors the teacher's clickdeb.Open/ClickDeb.file pattern of
// holding the bundle as a plain *os.File and Seek(0, 0)-ing between
// passes (clickdeb/deb.go's member/Unpack), generalized to also accept
// stdin by staging it through os.CreateTemp first.
func stage(path string) (*os.File, func(), error) {
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, rugixerr.New("bundle.stage", rugixerr.IoError, err)
		}
		return f, func() { f.Close() }, nil
	}

	tmp, err := os.CreateTemp("", "rugix-bundle-")
	if err != nil {
		return nil, nil, rugixerr.New("bundle.stage", rugixerr.IoError, err)
	}
	if _, err := io.Copy(tmp, os.Stdin); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, nil, rugixerr.New("bundle.stage", rugixerr.IoError, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, nil, rugixerr.New("bundle.stage", rugixerr.IoError, err)
	}

	name := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(name)
	}
	return tmp, cleanup, nil
}
