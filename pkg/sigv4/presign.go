// Package sigv4 builds time-limited presigned URLs using query-parameter
// request signing (AWS Signature Version 4).
//
// Signing is pure computation: it never touches the network and is fully
// deterministic for a given [Request] and clock reading. Inject a fixed
// clock through [Presigner.Clock] in tests.
package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// Algorithm is the signing algorithm identifier.
	Algorithm = "AWS4-HMAC-SHA256"

	terminator = "aws4_request"

	amzDateFormat   = "20060102T150405Z"
	shortDateFormat = "20060102"
)

// EmptyPayloadHash is the hex SHA-256 of the empty string.
var EmptyPayloadHash = hashHex("")

// Credentials identify the signer.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string

	// SessionToken is optional; when set it is sent as X-Amz-Security-Token.
	SessionToken string
}

// Request is the complete signing input.
type Request struct {
	Credentials Credentials

	Region  string
	Service string

	// Method defaults to GET.
	Method string

	// Host includes the port when it is not the scheme default.
	Host string
	Path string

	// Protocol is the URL scheme of the result, e.g. "wss". Default: "https".
	Protocol string

	// Query is a pre-built query string appended to the signed parameters
	// verbatim after parsing, e.g. "language-code=en-US&sample-rate=8000".
	Query string

	// Expires is the validity window. It is truncated to whole seconds and
	// must be between 1s and 7 days.
	Expires time.Duration

	// PayloadHash defaults to [EmptyPayloadHash].
	PayloadHash string
}

// SigningError reports malformed signing input.
type SigningError struct {
	Field  string
	Reason string
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sigv4: %s %s", e.Field, e.Reason)
}

// Presigner signs requests against a clock.
type Presigner struct {
	// Clock returns the signing time. Default: time.Now.
	Clock func() time.Time
}

// Presign signs req with the current time.
func Presign(req Request) (string, error) {
	return (&Presigner{}).Presign(req)
}

// Presign returns the presigned URL for req. The signing time is truncated to
// the second for X-Amz-Date and to the day for the credential scope.
func (p *Presigner) Presign(req Request) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	now := time.Now
	if p != nil && p.Clock != nil {
		now = p.Clock
	}
	t := now().UTC().Truncate(time.Second)

	method := req.Method
	if method == "" {
		method = "GET"
	}
	protocol := req.Protocol
	if protocol == "" {
		protocol = "https"
	}
	payloadHash := req.PayloadHash
	if payloadHash == "" {
		payloadHash = EmptyPayloadHash
	}
	path := req.Path
	if path == "" {
		path = "/"
	}

	query, err := url.ParseQuery(req.Query)
	if err != nil {
		return "", &SigningError{Field: "query", Reason: err.Error()}
	}

	scope := credentialScope(t, req.Region, req.Service)
	query.Set("X-Amz-Algorithm", Algorithm)
	query.Set("X-Amz-Credential", req.Credentials.AccessKeyID+"/"+scope)
	query.Set("X-Amz-Date", t.Format(amzDateFormat))
	query.Set("X-Amz-Expires", strconv.FormatInt(int64(req.Expires/time.Second), 10))
	query.Set("X-Amz-SignedHeaders", "host")
	if req.Credentials.SessionToken != "" {
		query.Set("X-Amz-Security-Token", req.Credentials.SessionToken)
	}

	canonicalQuery := canonicalQueryString(query)
	canonicalRequest := strings.Join([]string{
		strings.ToUpper(method),
		path,
		canonicalQuery,
		"host:" + strings.TrimSpace(req.Host) + "\n",
		"host",
		payloadHash,
	}, "\n")

	stringToSign := strings.Join([]string{
		Algorithm,
		t.Format(amzDateFormat),
		scope,
		hashHex(canonicalRequest),
	}, "\n")

	key := SigningKey(req.Credentials.SecretAccessKey, t, req.Region, req.Service)
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	return protocol + "://" + req.Host + path + "?" + canonicalQuery + "&X-Amz-Signature=" + signature, nil
}

// SigningKey derives the per-day signing key by chaining HMAC-SHA256 over the
// date, region, service and terminator, seeded with "AWS4" + secret.
func SigningKey(secret string, t time.Time, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), t.UTC().Format(shortDateFormat))
	k = hmacSHA256(k, region)
	k = hmacSHA256(k, service)
	return hmacSHA256(k, terminator)
}

func validate(req Request) error {
	required := []struct{ field, value string }{
		{"access key", req.Credentials.AccessKeyID},
		{"secret key", req.Credentials.SecretAccessKey},
		{"region", req.Region},
		{"service", req.Service},
		{"host", req.Host},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &SigningError{Field: r.field, Reason: "is required"}
		}
	}
	if req.Expires < time.Second || req.Expires > 7*24*time.Hour {
		return &SigningError{Field: "expires", Reason: fmt.Sprintf("%v is outside 1s..168h", req.Expires)}
	}
	if req.Path != "" && !strings.HasPrefix(req.Path, "/") {
		return &SigningError{Field: "path", Reason: "must start with /"}
	}
	return nil
}

func credentialScope(t time.Time, region, service string) string {
	return t.Format(shortDateFormat) + "/" + region + "/" + service + "/" + terminator
}

// canonicalQueryString sorts parameters by key (then value) and encodes both
// with RFC 3986 unreserved-character rules.
func canonicalQueryString(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if sb.Len() > 0 {
				sb.WriteByte('&')
			}
			sb.WriteString(uriEncode(k))
			sb.WriteByte('=')
			sb.WriteString(uriEncode(v))
		}
	}
	return sb.String()
}

// uriEncode percent-encodes everything except A-Z a-z 0-9 - _ . ~
func uriEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0F])
	}
	return sb.String()
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
