package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gogs/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

const charsetSampleSize = 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectCharset guesses the encoding of a file from its first bytes. Samples
// that are valid UTF-8 short-circuit the statistical detector.
func DetectCharset(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sample := make([]byte, charsetSampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	sample = sample[:n]
	if len(sample) == 0 {
		return "utf-8", nil
	}
	if bytes.HasPrefix(sample, utf8BOM) || utf8.Valid(trimPartialRune(sample)) {
		return "utf-8", nil
	}

	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil {
		return "", fmt.Errorf("detect charset: %w", err)
	}
	return strings.ToLower(result.Charset), nil
}

// TranscodeFile rewrites path in UTF-8, decoding the whole file from charset.
// The result replaces the source file through a rename.
func TranscodeFile(path, charset string) error {
	enc, err := lookupEncoding(charset)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return fmt.Errorf("decode %s as %s: %w", filepath.Base(path), charset, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(decoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// EnsureUTF8 transcodes path in place unless it already is UTF-8. It returns
// the detected source charset.
func EnsureUTF8(path string) (string, error) {
	charset, err := DetectCharset(path)
	if err != nil {
		return "", err
	}
	if isUTF8Name(charset) {
		return charset, nil
	}
	if err := TranscodeFile(path, charset); err != nil {
		return charset, err
	}
	return charset, nil
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

func isUTF8Name(name string) bool {
	n := strings.ReplaceAll(strings.ToLower(name), "_", "-")
	return n == "utf-8" || n == "utf8" || n == "ascii" || n == "us-ascii"
}

// trimPartialRune drops an incomplete multi-byte sequence cut by the sample size.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && i < len(b); i++ {
		end := len(b) - i
		if utf8.Valid(b[:end]) {
			return b[:end]
		}
	}
	return b
}
