package cmd

import (
	"github.com/charmbracelet/huh"
)

// SelectOption is one choice in a select prompt.
type SelectOption[T any] struct {
	Label string
	Value T
}

// runField shows a single huh field with key help at the bottom.
func runField(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithShowHelp(true).Run()
}

// promptString asks for text. An empty answer returns defaultVal, which is
// shown as the placeholder. validate may be nil.
func promptString(title, description, defaultVal string, validate func(string) error) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Description(description).
		Placeholder(defaultVal).
		Value(&value)
	if validate != nil {
		inp = inp.Validate(func(s string) error {
			if s == "" {
				s = defaultVal
			}
			return validate(s)
		})
	}

	if err := runField(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptSecret asks for a value without echoing it.
func promptSecret(title, placeholder string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		EchoMode(huh.EchoModePassword).
		Value(&value)

	if err := runField(inp); err != nil {
		return "", err
	}
	return value, nil
}

// promptSelect returns the chosen option's value. defaultIdx < 0 selects
// nothing up front.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value).Selected(i == defaultIdx)
	}

	sel := huh.NewSelect[T]().
		Title(title).
		Options(opts...).
		Value(&value)
	if err := runField(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptMultiSelect returns every checked option's value.
func promptMultiSelect[T comparable](title, description string, options []SelectOption[T], preselected []T) ([]T, error) {
	checked := make(map[T]bool, len(preselected))
	for _, v := range preselected {
		checked[v] = true
	}
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value).Selected(checked[o.Value])
	}

	var values []T
	ms := huh.NewMultiSelect[T]().
		Title(title).
		Description(description).
		Options(opts...).
		Value(&values)
	if err := runField(ms); err != nil {
		return nil, err
	}
	return values, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)

	if err := runField(c); err != nil {
		return false, err
	}
	return value, nil
}
