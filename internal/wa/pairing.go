package wa

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// terminalQR renders code as block characters for a terminal.
func terminalQR(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("encode pairing code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

func writeQRImage(path, code string) error {
	if err := qrcode.WriteFile(code, qrcode.Medium, qrImageSize, path); err != nil {
		return fmt.Errorf("write pairing qr %s: %w", path, err)
	}
	return nil
}

func (c *Client) showPairingCode(code string) {
	c.logger.Info("scan the QR code with WhatsApp", "qr", code)

	if art, err := terminalQR(code); err != nil {
		c.logger.Warn("render pairing qr", "error", err)
	} else {
		fmt.Fprintln(os.Stderr, art)
	}

	if c.qrPath != "" {
		if err := writeQRImage(c.qrPath, code); err != nil {
			c.logger.Warn("save pairing qr", "error", err)
			return
		}
		c.logger.Info("pairing qr saved", "path", c.qrPath)
	}
}
