package asm

import (
	"fmt"
	"strings"

	"github.com/sarchlab/alphasim/insts"
)

// statement is one source line after comment stripping. A statement holds
// a directive, an instruction, or only labels.
type statement struct {
	line      int
	labels    []string
	directive string
	mnemonic  string
	dataType  insts.DataType
	args      []string
	addr      uint64
}

func (s *statement) empty() bool {
	return s.directive == "" && s.mnemonic == ""
}

func stripComment(text string) string {
	if i := strings.IndexAny(text, "#;"); i >= 0 {
		return text[:i]
	}
	return text
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// parseSource splits the source into statements. Label-only lines attach
// their labels to the next statement with content.
func parseSource(src string) ([]statement, []error) {
	var (
		stmts   []statement
		errs    []error
		pending []string
	)

	for i, raw := range strings.Split(src, "\n") {
		st, err := parseLine(i+1, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		pending = append(pending, st.labels...)
		if st.empty() {
			continue
		}

		st.labels = pending
		pending = nil
		stmts = append(stmts, st)
	}

	if len(pending) > 0 {
		stmts = append(stmts, statement{line: -1, labels: pending})
	}

	return stmts, errs
}

func parseLine(line int, raw string) (statement, error) {
	st := statement{line: line}
	text := strings.TrimSpace(stripComment(raw))

	for {
		colon := strings.IndexByte(text, ':')
		if colon < 0 || !isIdent(strings.TrimSpace(text[:colon])) {
			break
		}
		st.labels = append(st.labels, strings.TrimSpace(text[:colon]))
		text = strings.TrimSpace(text[colon+1:])
	}

	if text == "" {
		return st, nil
	}

	head, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		head, rest = text[:i], text[i+1:]
	}
	head = strings.ToLower(head)

	if rest = strings.TrimSpace(rest); rest != "" {
		for _, arg := range strings.Split(rest, ",") {
			arg = strings.TrimSpace(arg)
			if arg == "" {
				return st, lineError(line, ErrSyntax, "empty operand")
			}
			st.args = append(st.args, arg)
		}
	}

	if strings.HasPrefix(head, ".") {
		st.directive = head
		return st, nil
	}

	mnemonic, suffix, hasSuffix := strings.Cut(head, ".")
	if _, ok := insts.LookupName(mnemonic); !ok {
		return st, lineError(line, ErrUnknownMnemonic, "%q", mnemonic)
	}
	st.mnemonic = mnemonic

	if hasSuffix {
		dt, ok := insts.ParseDataType(suffix)
		if !ok {
			return st, lineError(line, ErrSyntax, "unknown data type %q", suffix)
		}
		st.dataType = dt
	}

	return st, nil
}

func lineError(line int, sentinel error, format string, args ...any) *Error {
	return &Error{Line: line, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}
