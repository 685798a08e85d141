package theme

import (
	"testing"

	tint "github.com/lrstanley/bubbletint/v2"
	"github.com/stretchr/testify/require"
)

func TestPaletteFromTint(t *testing.T) {
	require := require.New(t)

	src := &tint.Tint{
		ID:          "Midnight_Test",
		DisplayName: " Midnight Test ",
		Fg:          tint.FromHex("#e0e0e0"),
		Bg:          tint.FromHex("#101010"),
		Cyan:        tint.FromHex("#00aaaa"),
		Green:       tint.FromHex("#00aa00"),
		Yellow:      tint.FromHex("#aaaa00"),
		Red:         tint.FromHex("#aa0000"),
		BrightBlack: tint.FromHex("#555555"),
		BrightBlue:  tint.FromHex("#5555ff"),
		BrightWhite: tint.FromHex("#ffffff"),
	}

	pal := paletteFromTint(src)
	require.Equal("midnight_test", pal.Name)
	require.Equal("Midnight Test", pal.DisplayName)
	require.Equal("#E0E0E0", pal.Colors[ColorTextPrimary].Dark)
	require.Equal("#101010", pal.Colors[ColorSurface].Light)
	require.Equal("#5555FF", pal.Colors[ColorAccent].Dark)
	require.Equal("#AA0000", pal.Colors[ColorDanger].Light)
}

func TestPaletteFromTintToleratesMissingColors(t *testing.T) {
	require := require.New(t)

	pal := paletteFromTint(&tint.Tint{ID: "sparse", Fg: tint.FromHex("#ffffff")})
	require.Equal("sparse", pal.Name)
	require.Equal("#FFFFFF", pal.Colors[ColorTextPrimary].Dark)
	require.Empty(pal.Colors[ColorSuccess].Dark)

	require.Empty(paletteFromTint(nil).Name)
}

func TestRegistryIncludesBundledTints(t *testing.T) {
	require := require.New(t)

	names := Available()
	require.Contains(names, DefaultName)
	require.Greater(len(names), 2)

	pal, ok := Get(DefaultName)
	require.True(ok)
	require.Equal(DefaultName, pal.Name)
}
