package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ask reads one non-empty answer. Hidden answers are read without echo when
// stdin is a terminal.
func ask(in *bufio.Reader, label, def string, hidden bool) (string, error) {
	q := label + ": "
	if def != "" && !hidden {
		q = fmt.Sprintf("%s [%s]: ", label, def)
	}
	for {
		fmt.Print(q)
		var raw string
		if hidden && term.IsTerminal(int(os.Stdin.Fd())) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return "", err
			}
			raw = string(b)
		} else {
			line, err := in.ReadString('\n')
			if err != nil {
				return "", err
			}
			raw = line
		}
		if v := strings.TrimSpace(raw); v != "" {
			return v, nil
		}
		if def != "" {
			return def, nil
		}
		fmt.Printf("%s is required\n", label)
	}
}

func promptLine(in *bufio.Reader, label, def string) (string, error) {
	return ask(in, label, def, false)
}

func promptSecret(in *bufio.Reader, label string) (string, error) {
	return ask(in, label, "", true)
}

// maskKey shows only the ends of a credential.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
