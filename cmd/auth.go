package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// promptAuthenticator answers Steam Guard challenges. Codes supplied up
// front via flags or environment are consumed once; anything beyond that
// falls back to an interactive prompt on stdin.
type promptAuthenticator struct {
	guardCode string
	emailCode string
}

func newPromptAuthenticator(guardCode, emailCode string) *promptAuthenticator {
	return &promptAuthenticator{guardCode: guardCode, emailCode: emailCode}
}

func (a *promptAuthenticator) DeviceCode(previousInvalid bool) (string, error) {
	if a.guardCode != "" && !previousInvalid {
		code := a.guardCode
		a.guardCode = ""
		return code, nil
	}
	if previousInvalid {
		fmt.Fprintln(os.Stderr, "The previous two-factor code was invalid.")
	}
	return promptLine("Enter your Steam Guard two-factor code: ")
}

func (a *promptAuthenticator) EmailCode(address string, previousInvalid bool) (string, error) {
	if a.emailCode != "" && !previousInvalid {
		code := a.emailCode
		a.emailCode = ""
		return code, nil
	}
	if previousInvalid {
		fmt.Fprintln(os.Stderr, "The previous email code was invalid.")
	}
	return promptLine(fmt.Sprintf("Enter the code sent to %s: ", address))
}

func promptLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword(username string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %s: ", username)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}
	return promptLine("")
}
