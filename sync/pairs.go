package sync

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// maxLineLength bounds a single CSV line.
const maxLineLength = 1024 * 1024

// LinkPair is one CSV line: the external id of a child record and of the
// parent it should be linked to. Line is 1-based.
type LinkPair struct {
	ChildExternalID  string
	ParentExternalID string
	Line             int
}

// ExtractPairs reads link pairs from the CSV file at path.
// A file that cannot be opened returns an error wrapping ErrCSVNotFound.
// A read error part way through returns the pairs read so far along with the error.
func ExtractPairs(path, encoding string, logger *log.Logger) ([]LinkPair, error) {
	decoder, err := decoderForEncoding(encoding)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, ErrCSVNotFound)
		}
		return nil, fmt.Errorf("%w: %w", ErrCSVNotFound, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCSVNotFound, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, ErrCSVNotFound)
	}

	return ReadPairs(transform.NewReader(f, decoder), logger)
}

// ReadPairs splits each line on bare commas; quoting is not supported.
// Lines with fewer than two fields are skipped with a warning. Fields beyond
// the second are ignored and values are used verbatim.
func ReadPairs(r io.Reader, logger *log.Logger) ([]LinkPair, error) {
	var result []LinkPair
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	line := 0
	for scanner.Scan() {
		line++
		fields := splitFields(scanner.Text())
		if len(fields) < 2 {
			if logger != nil {
				logger.Printf("Warning: found incomplete pair %q on line %d", fields[0], line)
			}
			continue
		}
		result = append(result, LinkPair{
			ChildExternalID:  fields[0],
			ParentExternalID: fields[1],
			Line:             line,
		})
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("failed to read csv after line %d: %w", line, err)
	}
	return result, nil
}

// splitFields splits on commas and drops trailing empty fields, so "US1," is
// a single field. It always returns at least one field.
func splitFields(s string) []string {
	fields := strings.Split(s, ",")
	for len(fields) > 1 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	return fields
}

// decoderForEncoding returns a transformer producing UTF-8 from the named
// encoding. UTF-8 input has any byte order mark removed.
func decoderForEncoding(encoding string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "utf-16", "utf16":
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "iso-8859-1", "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedEncoding, encoding)
	}
}

// SupportedEncodings lists the values accepted for the CSV encoding.
var SupportedEncodings = []string{"utf-8", "utf-16", "windows-1252", "iso-8859-1"}
