package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// SignatureHeader — заголовок с HMAC-подписью вебхука движка.
const SignatureHeader = "X-Bridge-Signature"

// VerifySignature сверяет hex(HMAC-SHA256(secret, body)) с подписью из заголовка.
// Сравнение константное по времени.
func VerifySignature(secret []byte, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NewSignatureMiddleware проверяет подпись сырого тела запроса.
// Пустой секрет включает open mode: подпись не проверяется (деплой без
// настроенного секрета на стороне движка), но каждый запрос логируется.
func NewSignatureMiddleware(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				logger.Warn("webhook signature check disabled: no secret configured")
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			// Тело прочитано целиком для подписи — возвращаем его хендлеру
			r.Body = io.NopCloser(bytes.NewReader(body))

			sig := r.Header.Get(SignatureHeader)
			if sig == "" || !VerifySignature([]byte(secret), body, sig) {
				logger.Warn("webhook signature mismatch", zap.String("remote", r.RemoteAddr))
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
