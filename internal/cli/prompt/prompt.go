// Package prompt provides interactive terminal prompts for CLI commands.
package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// Option is one item of a selection list.
type Option struct {
	Label       string
	Value       string
	Description string
}

func wrapError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return ErrAborted
	}
	return err
}

// Select prompts the user to pick one option and returns its value.
func Select(label string, options []Option) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label | white }}",
		Selected: "* {{ .Label | green }}",
		Details: `
{{ "Description:" | faint }}	{{ .Description }}`,
	}

	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}

// Confirm asks a yes/no question. An empty answer means no.
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{Label: label, IsConfirm: true}

	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	default:
		return false, wrapError(err)
	}
}
