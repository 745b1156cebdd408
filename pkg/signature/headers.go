package signature

import (
	"net/http"
	"strings"
)

// Names of the headers that take part in the signature base string
const (
	HeaderHost          = "host"
	HeaderDate          = "date"
	HeaderRequestTarget = "(request-target)"
	HeaderDigest        = "digest"
	HeaderMerchantID    = "v-c-merchant-id"
)

// Names of the headers emitted by CreateHeaders, in the casing expected by
// the processor.
const (
	MerchantIDHeader  = "v-c-merchant-id"
	DateHeader        = "Date"
	HostHeader        = "Host"
	SignatureHeader   = "Signature"
	ContentTypeHeader = "Content-Type"
	DigestHeader      = "Digest"

	ContentTypeJSON = "application/json"
	Algorithm       = "HmacSHA256"
	DigestPrefix    = "SHA-256="
)

// HeaderSet is the set of authentication headers an API call must carry
type HeaderSet map[string]string

// Apply copies the header set onto h. Names are assigned directly so that
// v-c-merchant-id keeps its lowercase spelling on the wire.
func (hs HeaderSet) Apply(h http.Header) {
	for name, value := range hs {
		h[name] = []string{value}
	}
}

// hasDigest reports whether requests using method carry a body digest
func hasDigest(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}

// CanonicalHeaders returns the ordered list of header names included in the
// signature base string for the given method. The same order is advertised
// in the headers attribute of the Signature header.
func CanonicalHeaders(method string) []string {
	if hasDigest(strings.ToUpper(method)) {
		return []string{HeaderHost, HeaderDate, HeaderRequestTarget, HeaderDigest, HeaderMerchantID}
	}
	return []string{HeaderHost, HeaderDate, HeaderRequestTarget, HeaderMerchantID}
}

// baseStringValues holds the values rendered into the signature base string
type baseStringValues struct {
	host       string
	date       string
	method     string
	path       string
	digest     string
	merchantID string
}

// render builds the newline-joined signature base string for the given
// header names. There is no trailing newline.
func (v *baseStringValues) render(names []string) string {
	lines := make([]string, 0, len(names))
	for _, name := range names {
		var value string
		switch name {
		case HeaderHost:
			value = v.host
		case HeaderDate:
			value = v.date
		case HeaderRequestTarget:
			value = strings.ToLower(v.method) + " " + v.path
		case HeaderDigest:
			value = v.digest
		case HeaderMerchantID:
			value = v.merchantID
		}
		lines = append(lines, name+": "+value)
	}
	return strings.Join(lines, "\n")
}

// SignatureBase recomputes the signature base string from a header set
// returned by CreateHeaders. This is useful when diagnosing signatures
// rejected by the processor.
func SignatureBase(headers HeaderSet, method, requestPath string) string {
	values := baseStringValues{
		host:       headers[HostHeader],
		date:       headers[DateHeader],
		method:     method,
		path:       requestPath,
		digest:     headers[DigestHeader],
		merchantID: headers[MerchantIDHeader],
	}
	return values.render(CanonicalHeaders(method))
}

// ParseSignatureHeader splits a Signature header value into its attributes
func ParseSignatureHeader(value string) map[string]string {
	attributes := map[string]string{}
	for _, part := range strings.Split(value, ", ") {
		name, quoted, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		attributes[name] = strings.TrimSuffix(strings.TrimPrefix(quoted, `"`), `"`)
	}
	return attributes
}
