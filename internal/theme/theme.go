// Package theme provides the color palettes used by the chat TUI and list
// output. Palettes come from a small built-in set plus every terminal tint
// shipped by bubbletint, with derived colors computed in Lab space so
// contrast holds up on both light and dark backgrounds.
package theme

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	tint "github.com/lrstanley/bubbletint/v2"
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultName is the built-in theme used when no override is provided.
const DefaultName = "devbot-dark"

// Token represents a semantic color slot within the CLI.
type Token string

const (
	ColorTextPrimary Token = "text.primary"
	ColorTextMuted   Token = "text.muted"
	ColorBorder      Token = "border"
	ColorSurface     Token = "surface"
	ColorPrimary     Token = "primary"
	ColorPrimaryText Token = "primary.text"
	ColorAccent      Token = "accent"
	ColorSuccess     Token = "success"
	ColorWarning     Token = "warning"
	ColorDanger      Token = "danger"
	ColorHighlight   Token = "highlight"
)

// Color stores light and dark variants for adaptive rendering.
type Color struct {
	Light string
	Dark  string
}

// Adaptive converts the color into a lipgloss adaptive color.
func (c Color) Adaptive() lipgloss.AdaptiveColor {
	light, dark := strings.TrimSpace(c.Light), strings.TrimSpace(c.Dark)
	switch {
	case light == "" && dark == "":
		return lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#000000"}
	case light == "":
		light = dark
	case dark == "":
		dark = light
	}
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

// Palette represents a concrete theme.
type Palette struct {
	Name        string
	DisplayName string
	About       string
	Colors      map[Token]Color
}

// Color returns a color for the provided token, falling back to the default palette.
func (p Palette) Color(token Token) Color {
	if p.Colors != nil {
		if c, ok := p.Colors[token]; ok {
			return ensureColor(c, token)
		}
	}
	return fallbackColor(token)
}

// Adaptive returns the lipgloss adaptive color for the provided token.
func (p Palette) Adaptive(token Token) lipgloss.AdaptiveColor {
	return p.Color(token).Adaptive()
}

// ForegroundStyle returns a lipgloss style with the foreground set to the requested token.
func (p Palette) ForegroundStyle(token Token) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(p.Adaptive(token))
}

// BackgroundStyle returns a lipgloss style with the background set to the requested token.
func (p Palette) BackgroundStyle(token Token) lipgloss.Style {
	return lipgloss.NewStyle().Background(p.Adaptive(token))
}

type contextKey struct{}

var (
	registryOnce sync.Once
	registryMu   sync.RWMutex
	palettes     map[string]Palette
	current      Palette
	defaultPal   Palette
	themeKey     contextKey
)

// ContextWithPalette stores the palette on the context.
func ContextWithPalette(ctx context.Context, p Palette) context.Context {
	return context.WithValue(ctx, themeKey, p)
}

// FromContext returns the palette stored on the context or the current palette.
func FromContext(ctx context.Context) Palette {
	if ctx == nil {
		return Current()
	}
	if p, ok := ctx.Value(themeKey).(Palette); ok {
		return p
	}
	return Current()
}

// Available returns the list of registered theme IDs (sorted).
func Available() []string {
	ensureRegistry()

	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(palettes))
	for k := range palettes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Exists returns true when a theme is registered.
func Exists(name string) bool {
	ensureRegistry()

	registryMu.RLock()
	defer registryMu.RUnlock()

	_, ok := palettes[sanitizeName(name)]
	return ok
}

// Get returns the palette with the provided name.
func Get(name string) (Palette, bool) {
	ensureRegistry()

	registryMu.RLock()
	defer registryMu.RUnlock()

	p, ok := palettes[sanitizeName(name)]
	return p, ok
}

// SetCurrent sets the active palette.
func SetCurrent(name string) error {
	ensureRegistry()

	name = sanitizeName(name)
	if name == "" {
		name = DefaultName
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	p, ok := palettes[name]
	if !ok {
		return fmt.Errorf("unknown color theme %q", name)
	}
	current = p
	return nil
}

// Current returns the active palette.
func Current() Palette {
	ensureRegistry()

	registryMu.RLock()
	defer registryMu.RUnlock()

	return current
}

// Flag is a pflag.Value implementation for theme IDs.
type Flag struct {
	value string
}

// NewFlag returns a Flag with the provided default value.
func NewFlag(defaultValue string) *Flag {
	name := sanitizeName(defaultValue)
	if name == "" || !Exists(name) {
		name = DefaultName
	}
	return &Flag{value: name}
}

// String implements pflag.Value.
func (f *Flag) String() string {
	if f == nil {
		return DefaultName
	}
	return f.value
}

// Set implements pflag.Value.
func (f *Flag) Set(v string) error {
	name := sanitizeName(v)
	if name == "" {
		name = DefaultName
	}
	if !Exists(name) {
		return fmt.Errorf("invalid color theme %q", v)
	}
	f.value = name
	return nil
}

// Type implements pflag.Value.
func (f *Flag) Type() string {
	return "string"
}

// ensureRegistry lazily loads the palettes.
func ensureRegistry() {
	registryOnce.Do(func() {
		registryMu.Lock()
		defer registryMu.Unlock()

		palettes = make(map[string]Palette)

		registerPalette(devbotDarkPalette())
		registerPalette(devbotLightPalette())
		defaultPal = palettes[DefaultName]
		current = defaultPal

		for _, t := range tint.DefaultTints() {
			registerPalette(paletteFromTint(t))
		}
	})
}

func registerPalette(p Palette) {
	if p.Name == "" {
		return
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Name
	}
	if p.Colors == nil {
		p.Colors = map[Token]Color{}
	}
	p.Name = sanitizeName(p.Name)
	palettes[p.Name] = p
}

func ensureColor(c Color, token Token) Color {
	if strings.TrimSpace(c.Light) == "" && strings.TrimSpace(c.Dark) == "" {
		return fallbackColor(token)
	}
	if strings.TrimSpace(c.Light) == "" {
		c.Light = c.Dark
	}
	if strings.TrimSpace(c.Dark) == "" {
		c.Dark = c.Light
	}
	return c
}

func fallbackColor(token Token) Color {
	if defaultPal.Colors != nil {
		if c, ok := defaultPal.Colors[token]; ok {
			return ensureColor(c, token)
		}
	}
	return Color{Light: "#FFFFFF", Dark: "#000000"}
}

func sanitizeName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// tintHex renders a tint color as hex, tolerating colors the tint omits.
func tintHex(c *tint.Color) string {
	if c == nil {
		return ""
	}
	return c.Hex()
}

func paletteFromTint(t *tint.Tint) Palette {
	if t == nil {
		return Palette{}
	}

	fg := normalizeHex(tintHex(t.Fg))
	bg := normalizeHex(tintHex(t.Bg))
	muted := normalizeHex(tintHex(t.BrightBlack))
	accent := normalizeHex(tintHex(t.Cyan))
	accentBright := normalizeHex(tintHex(t.BrightBlue))
	success := normalizeHex(tintHex(t.Green))
	warning := normalizeHex(tintHex(t.Yellow))
	danger := normalizeHex(tintHex(t.Red))
	highlight := normalizeHex(tintHex(t.BrightWhite))

	colors := map[Token]Color{
		ColorTextPrimary: pairColor(fg, fg),
		ColorTextMuted:   mutedColor(muted),
		ColorBorder:      borderColor(muted),
		ColorSurface:     pairColor(bg, bg),
		ColorPrimary:     pairColor(accent, accent),
		ColorPrimaryText: singleColor(contrastColor(accent)),
		ColorAccent:      pairColor(accentBright, accentBright),
		ColorSuccess:     pairColor(success, success),
		ColorWarning:     pairColor(warning, warning),
		ColorDanger:      pairColor(danger, danger),
		ColorHighlight:   pairColor(highlight, highlight),
	}

	return Palette{
		Name:        sanitizeName(t.ID),
		DisplayName: strings.TrimSpace(t.DisplayName),
		Colors:      colors,
	}
}

func singleColor(hex string) Color {
	h := normalizeHex(hex)
	return Color{Light: h, Dark: h}
}

func pairColor(light, dark string) Color {
	return Color{
		Light: normalizeHex(light),
		Dark:  normalizeHex(dark),
	}
}

func mutedColor(hex string) Color {
	base := normalizeHex(hex)
	if base == "" {
		return Color{Light: "#646A7A", Dark: "#7C8298"}
	}
	return Color{
		Light: darkenHex(base, 0.35),
		Dark:  lightenHex(base, 0.35),
	}
}

func borderColor(hex string) Color {
	base := normalizeHex(hex)
	if base == "" {
		return Color{Light: "#4A4D65", Dark: "#4A4D65"}
	}
	return Color{
		Light: darkenHex(base, 0.15),
		Dark:  lightenHex(base, 0.25),
	}
}

func normalizeHex(hex string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(hex, "#"))
	if trimmed == "" {
		return ""
	}
	switch len(trimmed) {
	case 3:
		var b strings.Builder
		b.WriteString("#")
		for _, r := range trimmed {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		return strings.ToUpper(b.String())
	default:
		if len(trimmed) > 6 {
			trimmed = trimmed[:6]
		}
		return "#" + strings.ToUpper(trimmed)
	}
}

func contrastColor(hex string) string {
	h := normalizeHex(hex)
	if h == "" {
		return "#121418"
	}
	c, err := colorful.Hex(h)
	if err != nil {
		return "#121418"
	}
	if relativeLuminance(c) > 0.55 {
		return "#121418"
	}
	return "#F8F8F8"
}

func lightenHex(hex string, amount float64) string {
	h := normalizeHex(hex)
	if h == "" {
		return ""
	}
	c, err := colorful.Hex(h)
	if err != nil {
		return h
	}
	return c.BlendLab(colorful.Color{R: 1, G: 1, B: 1}, clampFloat(amount, 0, 1)).Clamped().Hex()
}

func darkenHex(hex string, amount float64) string {
	h := normalizeHex(hex)
	if h == "" {
		return ""
	}
	c, err := colorful.Hex(h)
	if err != nil {
		return h
	}
	return c.BlendLab(colorful.Color{R: 0, G: 0, B: 0}, clampFloat(amount, 0, 1)).Clamped().Hex()
}

func clampFloat(val, minVal, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func relativeLuminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

func devbotDarkPalette() Palette {
	return Palette{
		Name:        DefaultName,
		DisplayName: "DevBot Dark",
		About:       "Default dark theme for the DevBot CLI.",
		Colors: map[Token]Color{
			ColorTextPrimary: singleColor("#E6E9EF"),
			ColorTextMuted:   singleColor("#8A92A6"),
			ColorBorder:      singleColor("#3B4252"),
			ColorSurface:     singleColor("#14161C"),
			ColorPrimary:     singleColor("#5AB0F2"),
			ColorPrimaryText: singleColor("#14161C"),
			ColorAccent:      singleColor("#B48EAD"),
			ColorSuccess:     singleColor("#74C47A"),
			ColorWarning:     singleColor("#E8C35C"),
			ColorDanger:      singleColor("#E06C75"),
			ColorHighlight:   singleColor("#2A2F3A"),
		},
	}
}

func devbotLightPalette() Palette {
	return Palette{
		Name:        "devbot-light",
		DisplayName: "DevBot Light",
		About:       "Light theme for the DevBot CLI.",
		Colors: map[Token]Color{
			ColorTextPrimary: singleColor("#1C1F26"),
			ColorTextMuted:   singleColor("#646A7A"),
			ColorBorder:      singleColor("#C9CEDA"),
			ColorSurface:     singleColor("#FFFFFF"),
			ColorPrimary:     singleColor("#1E66B8"),
			ColorPrimaryText: singleColor("#FFFFFF"),
			ColorAccent:      singleColor("#7A4E8C"),
			ColorSuccess:     singleColor("#2C7A33"),
			ColorWarning:     singleColor("#9A7B1E"),
			ColorDanger:      singleColor("#B03038"),
			ColorHighlight:   singleColor("#E8ECF4"),
		},
	}
}
