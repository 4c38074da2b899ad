package application

import (
	"encoding/base64"
	"strings"

	"github.com/AzielCF/az-connect/integrations/evolution"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// qrImage returns a data URL for the code. The provider image wins; a raw
// pairing string is rendered locally.
func qrImage(q evolution.QRCode) string {
	if q.Base64 != "" {
		if strings.HasPrefix(q.Base64, "data:") {
			return q.Base64
		}
		return "data:image/png;base64," + q.Base64
	}
	if q.Code == "" {
		return ""
	}
	png, err := qrcode.Encode(q.Code, qrcode.Medium, qrImageSize)
	if err != nil {
		logrus.WithError(err).Warn("[LIFECYCLE] failed to render QR code")
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func qrPayload(q evolution.QRCode) QRPayload {
	return QRPayload{QRCode: qrImage(q), Code: q.Code, PairingCode: q.PairingCode}
}
