// Package prompt reads interactive input for the terminal client.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/atinyakov/HabitKeeper/internal/models"
)

// ErrClosed is returned when the input ends before an answer is read.
var ErrClosed = errors.New("prompt: input closed")

// Prompter asks questions on out and reads answers from in.
type Prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
	// readPassword reads a line without echo. Nil means passwords are read
	// like any other line.
	readPassword func() ([]byte, error)
}

// New returns a Prompter. When in is a terminal, passwords are read
// without echo.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{scanner: bufio.NewScanner(in), out: out}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		p.readPassword = func() ([]byte, error) { return term.ReadPassword(fd) }
	}
	return p
}

// Line prints label and returns the trimmed answer.
func (p *Prompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", ErrClosed
	}
	return strings.TrimSpace(p.scanner.Text()), nil
}

// Password prints label and reads a secret answer.
func (p *Prompter) Password(label string) (string, error) {
	if p.readPassword == nil {
		return p.Line(label)
	}
	fmt.Fprint(p.out, label)
	secret, err := p.readPassword()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// Credentials asks for an email and a password.
func (p *Prompter) Credentials() (email, password string, err error) {
	if email, err = p.Line("Email: "); err != nil {
		return "", "", err
	}
	if password, err = p.Password("Password: "); err != nil {
		return "", "", err
	}
	return email, password, nil
}

// HabitDraft is the user input for a new habit.
type HabitDraft struct {
	Title       string
	Description string
	Frequency   models.Frequency
}

// Habit asks for the fields of a new habit. An empty frequency answer
// selects daily; an unknown one is passed through so the habit sync can
// reject it.
func (p *Prompter) Habit() (HabitDraft, error) {
	var d HabitDraft
	var err error
	if d.Title, err = p.Line("Title: "); err != nil {
		return HabitDraft{}, err
	}
	if d.Description, err = p.Line("Description: "); err != nil {
		return HabitDraft{}, err
	}
	freq, err := p.Line("Frequency (daily/weekly/monthly) [daily]: ")
	if err != nil {
		return HabitDraft{}, err
	}
	if freq == "" {
		d.Frequency = models.Daily
	} else {
		d.Frequency = models.Frequency(strings.ToLower(freq))
	}
	return d, nil
}
