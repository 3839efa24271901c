package viz

import "github.com/charmbracelet/lipgloss"

// Theme defines the colors of the live view.
type Theme struct {
	Name     string
	Primary  lipgloss.Color
	Accent   lipgloss.Color
	Muted    lipgloss.Color
	Success  lipgloss.Color
	Warning  lipgloss.Color
	Error    lipgloss.Color
	Setpoint lipgloss.Color
}

var (
	ThemeClassic = Theme{
		Name:     "classic",
		Primary:  lipgloss.Color("86"),
		Accent:   lipgloss.Color("205"),
		Muted:    lipgloss.Color("245"),
		Success:  lipgloss.Color("#00ff88"),
		Warning:  lipgloss.Color("#ffaa00"),
		Error:    lipgloss.Color("#ff4444"),
		Setpoint: lipgloss.Color("#ffcc00"),
	}

	ThemeRetroGreen = Theme{
		Name:     "retro",
		Primary:  lipgloss.Color("#00ff00"),
		Accent:   lipgloss.Color("#88ff88"),
		Muted:    lipgloss.Color("#005500"),
		Success:  lipgloss.Color("#88ff88"),
		Warning:  lipgloss.Color("#ffff00"),
		Error:    lipgloss.Color("#ff0000"),
		Setpoint: lipgloss.Color("#ccffcc"),
	}

	ThemeMinimal = Theme{
		Name:     "minimal",
		Primary:  lipgloss.Color("#ffffff"),
		Accent:   lipgloss.Color("#0088ff"),
		Muted:    lipgloss.Color("#888888"),
		Success:  lipgloss.Color("#00ff00"),
		Warning:  lipgloss.Color("#ffaa00"),
		Error:    lipgloss.Color("#ff0000"),
		Setpoint: lipgloss.Color("#cccccc"),
	}

	Themes = []Theme{ThemeClassic, ThemeRetroGreen, ThemeMinimal}
)

// GetTheme returns a theme by name, falling back to the classic theme.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return ThemeClassic
}

// NextTheme returns the theme after current in Themes.
func NextTheme(current Theme) Theme {
	for i, t := range Themes {
		if t.Name == current.Name {
			return Themes[(i+1)%len(Themes)]
		}
	}
	return Themes[0]
}
