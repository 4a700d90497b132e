package utils

import (
	qrcode "github.com/skip2/go-qrcode"
)

// QRImageSize is the rendered edge length in pixels; large enough to print
// on a station sign.
const QRImageSize = 512

// RenderQRCode encodes content as a PNG QR code.
func RenderQRCode(content string) ([]byte, error) {
	return qrcode.Encode(content, qrcode.Medium, QRImageSize)
}
