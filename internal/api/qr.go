package api

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
	"rsc.io/qr"
)

const (
	qrPNGSize = 256
	qrSVGSize = 264
)

// qrDataURL renders code as a PNG data URL suitable for an <img> src.
func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrPNGSize)
	if err != nil {
		return "", fmt.Errorf("encode QR png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// qrSVG produces a self-contained SVG with one rect per dark module.
func qrSVG(data string, size int) (string, error) {
	code, err := qr.Encode(data, qr.L)
	if err != nil {
		return "", fmt.Errorf("encode QR svg: %w", err)
	}

	n := code.Size
	if n == 0 {
		return "", fmt.Errorf("empty QR code")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" width="%d" height="%d">`, n, n, size, size)
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="#fff"/>`, n, n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if code.Black(x, y) {
				fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="1" height="1" fill="#000"/>`, x, y)
			}
		}
	}
	sb.WriteString(`</svg>`)
	return sb.String(), nil
}
