package prefix

import (
	"bufio"
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jmgilman/go/errors"

	"artiproxy/internal/storage"
)

// Limits bound the size of a prefix file.
type Limits struct {
	MaxEntries int
	MaxBytes   int64
}

// UnsupportedMarker opens a remote prefix file whose publisher asks clients
// not to route by prefixes at all.
const UnsupportedMarker = "@ unsupported"

const fileHeader = "# Prefix file generated by artiproxy\n# Do not edit, changes will be overwritten\n"

// Parse decodes prefix file content. Blank lines and lines starting with #
// are skipped. Malformed content is an INVALID_INPUT error.
func Parse(content []byte, lim Limits) ([]string, error) {
	if lim.MaxBytes > 0 && int64(len(content)) > lim.MaxBytes {
		return nil, errors.Newf(errors.CodeInvalidInput, "prefix file is %d bytes, limit is %d", len(content), lim.MaxBytes)
	}
	if !utf8.Valid(content) {
		return nil, errors.New(errors.CodeInvalidInput, "prefix file is not valid UTF-8")
	}

	var out []string
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	line := 0
	for sc.Scan() {
		line++
		l := strings.TrimSpace(sc.Text())
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		if err := checkEntry(l); err != nil {
			return nil, errors.WithContext(err, "line", line)
		}
		out = append(out, Normalize(l))
		if lim.MaxEntries > 0 && len(out) > lim.MaxEntries {
			return nil, errors.Newf(errors.CodeInvalidInput, "prefix file has more than %d entries", lim.MaxEntries)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "scan prefix file")
	}
	return out, nil
}

// Format encodes entries, validating them against lim. The output carries no
// timestamp so equal entry lists always produce equal bytes.
func Format(entries []string, lim Limits) ([]byte, error) {
	if lim.MaxEntries > 0 && len(entries) > lim.MaxEntries {
		return nil, errors.Newf(errors.CodeInvalidInput, "%d entries exceed the limit of %d", len(entries), lim.MaxEntries)
	}
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	for _, e := range entries {
		if err := checkEntry(e); err != nil {
			return nil, err
		}
		buf.WriteString(e)
		buf.WriteByte('\n')
	}
	if lim.MaxBytes > 0 && int64(buf.Len()) > lim.MaxBytes {
		return nil, errors.Newf(errors.CodeInvalidInput, "prefix file would be %d bytes, limit is %d", buf.Len(), lim.MaxBytes)
	}
	return buf.Bytes(), nil
}

func checkEntry(e string) error {
	if !strings.HasPrefix(e, "/") {
		return errors.Newf(errors.CodeInvalidInput, "entry %q does not start with /", e)
	}
	if strings.IndexFunc(e, unicode.IsSpace) >= 0 {
		return errors.Newf(errors.CodeInvalidInput, "entry %q contains whitespace", e)
	}
	return nil
}

// ValidEntry reports whether e can be written to a prefix file.
func ValidEntry(e string) bool {
	return checkEntry(e) == nil
}

// IsInvalidInput reports whether err marks malformed prefix data.
func IsInvalidInput(err error) bool {
	return storage.HasCode(err, errors.CodeInvalidInput)
}

// MarkedUnsupported reports whether content starts with UnsupportedMarker.
func MarkedUnsupported(content []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte(UnsupportedMarker))
}
