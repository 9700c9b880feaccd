// Package middleware содержит HTTP middleware сервиса синхронизации спонсорств.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

const signatureHeader = "X-Hub-Signature-256"

// Тела вебхуков небольшие; лимит защищает от случайно больших запросов.
const maxBodySize = 1 << 20

// SignatureMiddleware выполняет проверку подписи тела вебхука.
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт новый экземпляр SignatureMiddleware с указанным
// секретным ключом. Пустой ключ отключает проверку: подпись не настроена.
func NewSignatureMiddleware(secret string) *SignatureMiddleware {
	return &SignatureMiddleware{
		secretKey: []byte(secret),
	}
}

// Middleware сверяет заголовок X-Hub-Signature-256 с подписью HMAC-SHA256 тела
// запроса и восстанавливает тело для последующих обработчиков.
func (s *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secretKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		r.Body.Close()

		if !s.verify(body, r.Header.Get(signatureHeader)) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (s *SignatureMiddleware) verify(body []byte, header string) bool {
	received, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(received), []byte(expected))
}
