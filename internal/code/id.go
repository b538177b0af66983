package code

import (
	"crypto/rand"
	"fmt"

	"github.com/hitoshi/iceblink/internal/model"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// idRejectThreshold 以上のバイトは剰余の偏りを避けるため捨てる（256 - 256%62）。
const idRejectThreshold = 248

// NewID はCodeIDLength文字の英数字IDを暗号論的乱数から生成する。
func NewID() (string, error) {
	out := make([]byte, 0, model.CodeIDLength)
	buf := make([]byte, model.CodeIDLength*2)
	for len(out) < model.CodeIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= idRejectThreshold {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == model.CodeIDLength {
				break
			}
		}
	}
	return string(out), nil
}
