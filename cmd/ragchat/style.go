package main

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorUser   = lipgloss.Color("#F4D03F")
	colorMuted  = lipgloss.Color("#5C7A84")
	colorError  = lipgloss.Color("#E74C3C")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	userStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorUser)
	botStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)
