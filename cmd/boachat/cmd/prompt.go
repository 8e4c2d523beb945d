package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

// readSecret prompts for a value with masked input, falling back to a plain
// line read when stdin is not a terminal.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readNewPassword asks twice and checks both entries match.
func readNewPassword(prompt string) (string, error) {
	first, err := readSecret(prompt)
	if err != nil {
		return "", err
	}
	second, err := readSecret("Repeat: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passwords do not match")
	}
	return first, nil
}

// passwordFrom reads a password from path, or prompts when path is empty or
// "-".
func passwordFrom(fs afero.Fs, path, prompt string) (string, error) {
	if path == "" || path == "-" {
		return readSecret(prompt)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", fmt.Errorf("read password file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
