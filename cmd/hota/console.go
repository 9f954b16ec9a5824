package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

const prompt = "> "

// console reads command lines from in until EOF or quit, keeping the same
// session across commands so an upload can be followed by restart or cancel.
func (s *session) console(in io.Reader, interactive bool) error {
	if interactive {
		fmt.Fprintln(s.out, "B91 OTA console. Type 'help' for commands, 'quit' to exit.")
	}
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(s.out, prompt)
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		args, err := shlex.Split(line)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			continue
		}
		if err := s.exec(args); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}
