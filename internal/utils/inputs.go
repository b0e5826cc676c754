package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// PromptYesNo asks question on stdout until stdin answers yes or no.
// A closed stdin counts as no.
func PromptYesNo(question string) bool {
	return AskYesNo(os.Stdin, os.Stdout, question)
}

// AskYesNo is PromptYesNo over arbitrary streams. A single reader is kept
// across retries so buffered answers are not lost.
func AskYesNo(in io.Reader, out io.Writer, question string) bool {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s (y/n): ", question)
		line, err := reader.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			fmt.Fprintln(out)
			return false
		}
		fmt.Fprintln(out, "Please enter y or n")
	}
}
