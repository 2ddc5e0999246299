package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ConfirmDanger is ConfirmFrom styled for irreversible actions such as
// finalize.
func ConfirmDanger(r io.Reader, w io.Writer, prompt string) bool {
	return ConfirmFrom(r, w, StyleError.Render("⚠ "+prompt))
}

// ConfirmFrom reads one answer line from r. EOF counts as no.
func ConfirmFrom(r io.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(r).ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}
