// Package display renders the session URL for a phone camera.
package display

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
)

// Half-block glyphs keep the code small enough for an 80 column terminal.
const (
	blackWhite = "▄"
	blackBlack = " "
	whiteBlack = "▀"
	whiteWhite = "█"
)

// CodeDisplay writes a scannable code followed by a caption.
type CodeDisplay struct {
	w io.Writer
}

func New(w io.Writer) *CodeDisplay {
	return &CodeDisplay{w: w}
}

// Show renders url as a QR code, then prints the caption lines and the
// URL itself for peers that cannot scan.
func (d *CodeDisplay) Show(url string, caption ...string) {
	qrterminal.GenerateWithConfig(url, qrterminal.Config{
		Level:          qrterminal.M,
		Writer:         d.w,
		HalfBlocks:     true,
		BlackChar:      blackBlack,
		WhiteBlackChar: whiteBlack,
		WhiteChar:      whiteWhite,
		BlackWhiteChar: blackWhite,
		QuietZone:      1,
	})
	for _, line := range caption {
		fmt.Fprintln(d.w, line)
	}
	fmt.Fprintf(d.w, "URL: %s\n", url)
}
