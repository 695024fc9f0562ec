// Package encoding decodes map source written in legacy codepages.
package encoding

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// codepages maps the names accepted in configuration to decoders. Level
// editors commonly save in the host's legacy codepage.
var codepages = map[string]encoding.Encoding{
	"cp437":        charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp1251":       charmap.Windows1251,
	"cp1252":       charmap.Windows1252,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"koi8-r":       charmap.KOI8R,
	"euc-kr":       korean.EUCKR,
}

// Codepages returns the supported codepage names.
func Codepages() []string {
	names := []string{"utf-8"}
	for name := range codepages {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// ValidCodepage reports whether name is a supported codepage.
func ValidCodepage(name string) bool {
	name = strings.ToLower(name)
	if name == "" || name == "utf-8" || name == "utf8" {
		return true
	}
	_, ok := codepages[name]
	return ok
}

// Decode converts text in the named codepage to UTF-8. A leading UTF-8
// byte order mark is dropped.
func Decode(data []byte, codepage string) ([]byte, error) {
	name := strings.ToLower(codepage)
	if name == "" || name == "utf-8" || name == "utf8" {
		return bytes.TrimPrefix(data, utf8BOM), nil
	}
	enc, ok := codepages[name]
	if !ok {
		return nil, fmt.Errorf("unknown codepage %q", codepage)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", codepage, err)
	}
	return out, nil
}
