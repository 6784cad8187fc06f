package dirdoc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the layout of every timestamp in directory documents.
const TimeFormat = "2006-01-02 15:04:05"

var ErrMalformed = errors.New("malformed directory document")

// object is a PEM-like block embedded in a directory document.
// Tor uses labels (SIGNATURE, ID SIGNATURE) that are not standard PEM types,
// so only the label and base64 body are kept.
type object struct {
	label string
	body  string
}

func (o *object) pem() string {
	var sb strings.Builder
	sb.WriteString("-----BEGIN " + o.label + "-----\n")
	sb.WriteString(wrap(o.body, 64))
	sb.WriteString("-----END " + o.label + "-----\n")
	return sb.String()
}

// wrap splits s into newline-terminated lines of at most width characters.
func wrap(s string, width int) string {
	var sb strings.Builder
	for len(s) > width {
		sb.WriteString(s[:width])
		sb.WriteByte('\n')
		s = s[width:]
	}
	if len(s) > 0 {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// splitLines splits raw into lines, each keeping its trailing newline.
func splitLines(raw []byte) []string {
	lines := make([]string, 0, bytes.Count(raw, []byte{'\n'})+1)
	for len(raw) > 0 {
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			lines = append(lines, string(raw))
			break
		}
		lines = append(lines, string(raw[:idx+1]))
		raw = raw[idx+1:]
	}
	return lines
}

// keyword splits a line into its keyword and arguments.
func keyword(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func isObjectStart(line string) bool {
	return strings.HasPrefix(line, "-----BEGIN ")
}

// readObject consumes the object beginning at lines[i] and returns it with the
// index of the first line after it.
func readObject(lines []string, i int) (*object, int, error) {
	begin := strings.TrimSpace(lines[i])
	label, ok := strings.CutPrefix(begin, "-----BEGIN ")
	if !ok || !strings.HasSuffix(label, "-----") {
		return nil, i, fmt.Errorf("%w: line %d: bad object header %q", ErrMalformed, i+1, begin)
	}
	label = strings.TrimSuffix(label, "-----")
	end := "-----END " + label + "-----"
	var body strings.Builder
	for j := i + 1; j < len(lines); j++ {
		l := strings.TrimSpace(lines[j])
		if l == end {
			return &object{label: label, body: body.String()}, j + 1, nil
		}
		body.WriteString(l)
	}
	return nil, i, fmt.Errorf("%w: line %d: unterminated %s object", ErrMalformed, i+1, label)
}

// parseTime reads a timestamp spread over a date and a time argument.
func parseTime(args []string) (time.Time, error) {
	if len(args) < 2 {
		return time.Time{}, fmt.Errorf("%w: expected date and time, got %q", ErrMalformed, args)
	}
	return time.Parse(TimeFormat, args[0]+" "+args[1])
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
