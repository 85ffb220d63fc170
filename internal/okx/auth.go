package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"okx_connector/internal/config"
)

// Auth signs REST requests and produces WebSocket login arguments using
// the venue's HMAC-SHA256 scheme.
type Auth struct {
	apiKey     config.Secret
	secretKey  config.Secret
	passphrase config.Secret
}

// NewAuth creates an Auth from credentials
func NewAuth(apiKey, secretKey, passphrase config.Secret) *Auth {
	return &Auth{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
	}
}

func (a *Auth) sign(prehash string) string {
	mac := hmac.New(sha256.New, []byte(a.secretKey.Reveal()))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignRequest implements the pkg/http Signer interface. The signature
// covers timestamp + method + path(+query) + body.
func (a *Auth) SignRequest(req *http.Request, body []byte) error {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	requestPath := req.URL.Path
	if req.URL.RawQuery != "" {
		requestPath += "?" + req.URL.RawQuery
	}

	prehash := timestamp + req.Method + requestPath + string(body)

	req.Header.Set("OK-ACCESS-KEY", a.apiKey.Reveal())
	req.Header.Set("OK-ACCESS-SIGN", a.sign(prehash))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", a.passphrase.Reveal())
	return nil
}

// WSLoginArgs returns the argument object for the private WebSocket
// login operation. The login signature covers a fixed verification path.
func (a *Auth) WSLoginArgs() map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	prehash := timestamp + "GET" + "/users/self/verify"

	return map[string]string{
		"apiKey":     a.apiKey.Reveal(),
		"passphrase": a.passphrase.Reveal(),
		"timestamp":  timestamp,
		"sign":       a.sign(prehash),
	}
}
