package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureParts is the parsed x-signature header: "ts=<unix>,v1=<hex>".
type SignatureParts struct {
	TS string
	V1 string
}

func ParseSignatureHeader(header string) SignatureParts {
	var out SignatureParts
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case "ts":
			out.TS = strings.TrimSpace(v)
		case "v1":
			out.V1 = strings.ToLower(strings.TrimSpace(v))
		}
	}
	return out
}

// SignatureManifest builds "id:<data.id>;request-id:<x-request-id>;ts:<ts>;"
// leaving out the parts that were not sent.
func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	if ts != "" {
		b.WriteString("ts:" + ts + ";")
	}
	return b.String()
}

// VerifySignature checks an x-signature header against the manifest using
// HMAC-SHA256 and a constant-time compare.
func VerifySignature(secret, signatureHeader, requestID, dataID string) bool {
	secret = strings.TrimSpace(secret)
	parts := ParseSignatureHeader(signatureHeader)
	if secret == "" || parts.TS == "" || parts.V1 == "" {
		return false
	}
	expected, err := hex.DecodeString(parts.V1)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignatureManifest(dataID, requestID, parts.TS)))
	return hmac.Equal(mac.Sum(nil), expected)
}

// SignatureDataID returns the id the provider signs: the data.id query
// parameter when present, otherwise the decoded resource id.
func SignatureDataID(queryDataID string, n Notification) string {
	if id := strings.TrimSpace(queryDataID); id != "" {
		return id
	}
	switch v := n.(type) {
	case WebhookV2:
		return v.DataID
	case FeedNotification:
		return v.ResourceID
	}
	return ""
}
