// Package fingerprint computes the content digests used to decide which files
// need to be transferred. A fingerprint is the lowercase hex MD5 of the bytes.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

func Bytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func Reader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File streams name from fs through the digest without loading it whole.
func File(fs billy.Basic, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sum, err := Reader(f)
	if err != nil {
		return "", fmt.Errorf("hash %q: %w", name, err)
	}
	return sum, nil
}
