package models

import (
	"fmt"
	"strings"
)

// Background colours offered on the start screen.
const (
	ColorBlack  = "#090C08"
	ColorPurple = "#474056"
	ColorGray   = "#8A95A5"
	ColorGreen  = "#B9C6AE"
)

// Palette lists the selectable background colours in display order.
var Palette = []string{ColorBlack, ColorPurple, ColorGray, ColorGreen}

// Profile is what a user picks before entering the room.
type Profile struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	BackgroundColor string `json:"background_color"`
}

// NormalizeColor maps an empty value to the first palette entry and rejects
// colours outside the palette. Matching is case-insensitive.
func NormalizeColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return Palette[0], nil
	}
	for _, candidate := range Palette {
		if strings.EqualFold(candidate, color) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("background color %q is not in the palette", color)
}
