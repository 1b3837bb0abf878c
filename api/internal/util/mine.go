package util

import "encoding/base64"

// DataURL собирает data:<mime>;base64,<payload> для провайдеров,
// которые принимают картинку только ссылкой.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
