// Package zatcaapi talks to the ZATCA e-invoicing gateway over HTTPS: the
// five onboarding/submission endpoints, common headers, per-endpoint
// auth, and the connection-error retry/backoff the teacher's own
// utils/sunat.go does not need (SUNAT's client calls a stable internal
// host) but this spec requires for a public gateway.
package zatcaapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zatca-go/fatoora-client/models"
	"github.com/zatca-go/fatoora-client/zatcaerr"
)

const baseURLFormat = "https://gw-fatoora.zatca.gov.sa/e-invoicing/%s"

// Client issues requests against one ZATCA environment's gateway.
type Client struct {
	HTTP          *http.Client
	BaseURL       string
	Retries       int
	BackoffFactor time.Duration
	Log           *logrus.Entry
}

// New builds a Client for env, defaulting to three retries and a one
// second backoff factor, matching the ZATCA reference client.
func New(env models.Environment, log *logrus.Entry) (*Client, error) {
	segment, err := env.PathSegment()
	if err != nil {
		return nil, zatcaerr.ConfigWrap(err, "building ZATCA API client")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		HTTP:          &http.Client{Timeout: 30 * time.Second},
		BaseURL:       fmt.Sprintf(baseURLFormat, segment),
		Retries:       3,
		BackoffFactor: time.Second,
		Log:           log,
	}, nil
}

// basicAuth is the token/secret pair ZATCA's Basic-Auth endpoints expect.
type basicAuth struct {
	username string
	password string
}

// request performs a single logical call with the spec's retry policy:
// exactly Retries attempts, sleeping BackoffFactor*2^attempt between
// failures, retrying only transport-level failures (DNS, connection
// reset, timeout) and never a non-2xx HTTP response — that is a
// terminal HttpError the caller must handle itself.
func (c *Client) request(ctx context.Context, method, url string, headers map[string]string, body []byte, auth *basicAuth) ([]byte, error) {
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	var lastErr error
	for attempt := 0; attempt < c.Retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, zatcaerr.NetworkWrap(err, "building request to %s", url)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if auth != nil {
			req.SetBasicAuth(auth.username, auth.password)
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt + 1,
			}).Warn("zatca request transport failure")
			if attempt < c.Retries-1 {
				time.Sleep(c.BackoffFactor * (1 << attempt))
				continue
			}
			return nil, zatcaerr.NetworkWrap(err, "calling %s after %d attempts", url, c.Retries)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, zatcaerr.NetworkWrap(err, "reading response body from %s", url)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, zatcaerr.HTTP(resp.StatusCode, string(respBody), "zatca gateway returned %d from %s", resp.StatusCode, url)
		}
		return respBody, nil
	}
	return nil, zatcaerr.NetworkWrap(lastErr, "calling %s after %d attempts", url, c.Retries)
}

func (c *Client) commonHeaders() map[string]string {
	return map[string]string{
		"Accept":          "application/json",
		"Accept-Language": "en",
		"Accept-Version":  "V2",
		"Content-Type":    "application/json",
	}
}

// ComplianceCSIDRequest asks ZATCA to issue a compliance CSID for csr,
// authenticated by the one-time password from the Fatoora portal.
func (c *Client) ComplianceCSIDRequest(ctx context.Context, csrBase64, otp string) (*CSIDResponse, error) {
	payload, err := json.Marshal(map[string]string{"csr": csrBase64})
	if err != nil {
		return nil, zatcaerr.ProtocolWrap(err, "marshaling compliance CSID request")
	}

	headers := c.commonHeaders()
	headers["OTP"] = otp

	body, err := c.request(ctx, http.MethodPost, c.BaseURL+"/compliance", headers, payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeCSIDResponse(body)
}

// ComplianceCheck runs one signed sample document through the compliance
// checks endpoint and reports its reporting/clearance status.
func (c *Client) ComplianceCheck(ctx context.Context, ccsid models.CredentialSet, invoiceHash, uuid, signedInvoiceBase64 string) (*CheckResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"invoiceHash": invoiceHash,
		"uuid":        uuid,
		"invoice":     signedInvoiceBase64,
	})
	if err != nil {
		return nil, zatcaerr.ProtocolWrap(err, "marshaling compliance check request")
	}

	auth := &basicAuth{username: ccsid.CCSIDToken, password: ccsid.CCSIDSecret}
	body, err := c.request(ctx, http.MethodPost, c.BaseURL+"/compliance/invoices", c.commonHeaders(), payload, auth)
	if err != nil {
		return nil, err
	}
	return decodeCheckResponse(body)
}

// ProductionCSIDRequest exchanges a compliance request ID for a
// production CSID, once all six sample documents have passed.
func (c *Client) ProductionCSIDRequest(ctx context.Context, ccsid models.CredentialSet) (*CSIDResponse, error) {
	payload, err := json.Marshal(map[string]string{"compliance_request_id": ccsid.CCSIDRequestID})
	if err != nil {
		return nil, zatcaerr.ProtocolWrap(err, "marshaling production CSID request")
	}

	auth := &basicAuth{username: ccsid.CCSIDToken, password: ccsid.CCSIDSecret}
	body, err := c.request(ctx, http.MethodPost, c.BaseURL+"/production/csids", c.commonHeaders(), payload, auth)
	if err != nil {
		return nil, err
	}
	return decodeCSIDResponse(body)
}

// Reporting submits a simplified invoice for reporting.
func (c *Client) Reporting(ctx context.Context, pcsid models.CredentialSet, invoiceHash, uuid, signedInvoiceBase64 string) (*CheckResponse, error) {
	return c.submit(ctx, c.BaseURL+"/invoices/reporting/single", pcsid, invoiceHash, uuid, signedInvoiceBase64, nil)
}

// Clearance submits a standard invoice for clearance. The server echoes
// back the cleared invoice in its response's clearedInvoice field.
func (c *Client) Clearance(ctx context.Context, pcsid models.CredentialSet, invoiceHash, uuid, signedInvoiceBase64 string) (*CheckResponse, error) {
	return c.submit(ctx, c.BaseURL+"/invoices/clearance/single", pcsid, invoiceHash, uuid, signedInvoiceBase64, map[string]string{
		"Clearance-Status": "1",
	})
}

func (c *Client) submit(ctx context.Context, url string, pcsid models.CredentialSet, invoiceHash, uuid, signedInvoiceBase64 string, extraHeaders map[string]string) (*CheckResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"invoiceHash": invoiceHash,
		"uuid":        uuid,
		"invoice":     signedInvoiceBase64,
	})
	if err != nil {
		return nil, zatcaerr.ProtocolWrap(err, "marshaling submission request")
	}

	headers := c.commonHeaders()
	for k, v := range extraHeaders {
		headers[k] = v
	}

	auth := &basicAuth{username: pcsid.PCSIDToken, password: pcsid.PCSIDSecret}
	body, err := c.request(ctx, http.MethodPost, url, headers, payload, auth)
	if err != nil {
		return nil, err
	}
	return decodeCheckResponse(body)
}

// CSIDResponse is ZATCA's response shape for both compliance and
// production CSID issuance.
type CSIDResponse struct {
	RequestID           string `json:"requestID"`
	BinarySecurityToken string `json:"binarySecurityToken"`
	Secret              string `json:"secret"`
}

// DecodeCertificateBody undoes the extra base64 layer ZATCA wraps its
// binarySecurityToken in: the token itself is base64, and decoding it
// once yields the certificate's own base64 DER body (what the XAdES
// signer and QR encoder need, and what the signer base64-decodes to DER
// for parsing).
// Basic-Auth calls use the raw, still-encoded token as-is; only signing
// needs this extra unwrap.
func DecodeCertificateBody(binarySecurityToken string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(binarySecurityToken)
	if err != nil {
		return "", zatcaerr.CryptoWrap(err, "decoding binarySecurityToken")
	}
	return string(decoded), nil
}

func decodeCSIDResponse(body []byte) (*CSIDResponse, error) {
	var out CSIDResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, zatcaerr.ProtocolWrap(err, "decoding CSID response: %s", truncate(body))
	}
	return &out, nil
}

// CheckResponse is ZATCA's response shape shared by compliance checks,
// reporting, and clearance: the status field's key differs
// (reportingStatus vs clearanceStatus), so both are decoded and whichever
// is non-empty governs. Clearance additionally echoes the cleared
// invoice; reporting does not, so callers fall back to the request
// payload's own invoice for that case (spec section 4.H step 3).
type CheckResponse struct {
	ReportingStatus string `json:"reportingStatus"`
	ClearanceStatus string `json:"clearanceStatus"`
	ClearedInvoice  string `json:"clearedInvoice"`
	ValidationResults struct {
		Status string `json:"status"`
	} `json:"validationResults"`
}

// Accepted reports whether the gateway considered the submission
// successful: its status field contains "REPORTED" or "CLEARED".
func (r *CheckResponse) Accepted() bool {
	status := r.ReportingStatus
	if status == "" {
		status = r.ClearanceStatus
	}
	return strings.Contains(status, "REPORTED") || strings.Contains(status, "CLEARED")
}

func decodeCheckResponse(body []byte) (*CheckResponse, error) {
	var out CheckResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, zatcaerr.ProtocolWrap(err, "decoding check response: %s", truncate(body))
	}
	return &out, nil
}

func truncate(body []byte) string {
	const max = 500
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}
