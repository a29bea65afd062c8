package discovery

import (
	"bytes"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadFileText reads a file and returns its content as UTF-8. UTF-16
// files are recognized by their BOM and transcoded; everything else is
// returned as-is with a leading UTF-8 BOM stripped.
func ReadFileText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	switch {
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFF, 0xFE}):
		return decodeUTF16(data, unicode.LittleEndian)
	case len(data) >= 2 && bytes.Equal(data[:2], []byte{0xFE, 0xFF}):
		return decodeUTF16(data, unicode.BigEndian)
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xEF, 0xBB, 0xBF}):
		return string(data[3:]), nil
	default:
		return string(data), nil
	}
}

func decodeUTF16(data []byte, endianness unicode.Endianness) (string, error) {
	decoder := unicode.UTF16(endianness, unicode.UseBOM).NewDecoder()
	decoded, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
