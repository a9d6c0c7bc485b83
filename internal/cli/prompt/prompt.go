// Package prompt wraps promptui for the interactive parts of the CLI.
package prompt

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

func wrap(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return ErrAborted
	}
	return err
}

// Confirm asks a yes/no question. An aborted prompt answers no.
func Confirm(label string, defaultYes bool) (bool, error) {
	def := "n"
	if defaultYes {
		def = "y"
	}
	p := promptui.Prompt{Label: label, IsConfirm: true, Default: def}
	_, err := p.Run()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err = wrap(err); errors.Is(err, ErrAborted) {
		return false, nil
	}
	return false, err
}

// ConfirmWithForce skips the question when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}

// Input reads a line of text, falling back to def when empty.
func Input(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def, AllowEdit: true}
	v, err := p.Run()
	if err != nil {
		return "", wrap(err)
	}
	return strings.TrimSpace(v), nil
}

// ValidatePort accepts a TCP port number.
func ValidatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a number")
	}
	if n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// Port reads a TCP port number.
func Port(label string, def int) (int, error) {
	p := promptui.Prompt{Label: label, Default: strconv.Itoa(def), Validate: ValidatePort}
	v, err := p.Run()
	if err != nil {
		return 0, wrap(err)
	}
	return strconv.Atoi(strings.TrimSpace(v))
}

// Password reads a secret without echoing it.
func Password(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	v, err := p.Run()
	if err != nil {
		return "", wrap(err)
	}
	return v, nil
}

// Option is one entry of a Select.
type Option struct {
	Label       string
	Value       string
	Description string
}

// Select shows a list and returns the Value of the chosen option.
func Select(label string, options []Option) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("no options to select from")
	}
	tpl := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "✔ {{ .Label | green }}",
		Details:  "{{ if .Description }}{{ .Description | faint }}{{ end }}",
	}
	s := promptui.Select{Label: label, Items: options, Templates: tpl, Size: len(options)}
	i, _, err := s.Run()
	if err != nil {
		return "", wrap(err)
	}
	return options[i].Value, nil
}
