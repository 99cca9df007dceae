// Command zatcacli is the taxpayer-client's single entry point: it
// reads one JSON request envelope from stdin, routes it to the
// onboarding or submission pipeline by which fields the envelope
// carries, and writes one JSON response envelope to stdout. It is the
// only place in this module allowed to call os.Exit, the same
// boundary the teacher draws around its own main.go.
package main

import (
	"context"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/beevik/etree"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zatca-go/fatoora-client/audit"
	"github.com/zatca-go/fatoora-client/config"
	"github.com/zatca-go/fatoora-client/invoicerequest"
	"github.com/zatca-go/fatoora-client/logging"
	"github.com/zatca-go/fatoora-client/models"
	"github.com/zatca-go/fatoora-client/onboarding"
	"github.com/zatca-go/fatoora-client/submission"
	"github.com/zatca-go/fatoora-client/zatcaapi"
	"github.com/zatca-go/fatoora-client/zatcaerr"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr))
}

func run(in io.Reader, out, errOut io.Writer) int {
	raw, err := io.ReadAll(in)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		writeFatal(out, zatcaerr.ConfigWrap(err, "decoding stdin request envelope"))
		return 1
	}

	cfg := config.Load(nil)
	log := logging.New(cfg.LogLevel, errOut)
	entry := logging.ForRun(log, uuid.NewString(), cfg.Environment)

	store, err := audit.Open(cfg.AuditDatabasePath)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	switch {
	case hasField(probe, "otp"):
		return runOnboarding(raw, cfg, store, entry, out)
	case hasField(probe, "binary_security_token"):
		return runComplianceCheck(raw, cfg, store, entry, out)
	case hasField(probe, "production_binary_security_token"):
		return runSubmission(raw, cfg, store, entry, out)
	default:
		writeFatal(out, zatcaerr.Config("request envelope matches no known request shape"))
		return 1
	}
}

func hasField(probe map[string]json.RawMessage, key string) bool {
	raw, ok := probe[key]
	if !ok {
		return false
	}
	var s string
	return json.Unmarshal(raw, &s) == nil && s != ""
}

func runOnboarding(raw []byte, cfg *config.Config, store *audit.Store, log *logrus.Entry, out io.Writer) int {
	var req models.OnboardingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeFatal(out, zatcaerr.ConfigWrap(err, "decoding onboarding request"))
		return 1
	}
	logging.Step(log, 1, "loaded onboarding request")

	templates, err := cfg.Resources.Load()
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	client, err := zatcaapi.New(req.Env, log)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	csrCfg := models.CsrConfig{
		CommonName:               req.Name,
		SerialNumber:             req.SerialNumber,
		OrganizationIdentifier:   req.VAT,
		OrganizationUnitName:     req.BranchName,
		OrganizationName:         req.Name,
		CountryCode:              req.CountryCode,
		InvoiceType:              req.InvoiceType,
		LocationAddress:          req.Address,
		IndustryBusinessCategory: req.BusinessCategory,
	}

	logging.Step(log, 2, "running onboarding pipeline")
	result, err := onboarding.Run(context.Background(), client, req.Env, csrCfg, req.OTP, req, templates, log)
	if result != nil {
		auditErr := store.Record(req.VAT, audit.ActionOnboarded, fmt.Sprintf("icv=%d", result.Credentials.LastICV), string(req.Env))
		if auditErr != nil {
			log.WithError(auditErr).Warn("failed to write onboarding audit log")
		}
	}
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	resp := models.OnboardingResponse{
		PrivateKey:               result.Credentials.PrivateKey,
		CSR:                      result.Credentials.CSR,
		CCSIDRequestID:           result.Credentials.CCSIDRequestID,
		CCSIDBinarySecurityToken: result.Credentials.CCSIDToken,
		CCSIDSecret:              result.Credentials.CCSIDSecret,
		PCSIDRequestID:           result.Credentials.PCSIDRequestID,
		PCSIDBinarySecurityToken: result.Credentials.PCSIDToken,
		PCSIDSecret:              result.Credentials.PCSIDSecret,
		ComplianceCheck:          result.ComplianceCheck,
	}
	return writeSuccess(out, resp)
}

func runComplianceCheck(raw []byte, cfg *config.Config, store *audit.Store, log *logrus.Entry, out io.Writer) int {
	var req models.ComplianceCheckRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeFatal(out, zatcaerr.ConfigWrap(err, "decoding compliance check request"))
		return 1
	}
	logging.Step(log, 1, "loaded compliance check request")

	templates, err := cfg.Resources.Load()
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(req.XMLFilePath); err != nil {
		writeFatal(out, zatcaerr.ConfigWrap(err, "reading invoice XML %q", req.XMLFilePath))
		return 1
	}

	priv, err := parsePrivateKey(req.PrivateKey)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	certBody, err := zatcaapi.DecodeCertificateBody(req.BinarySecurityToken)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	payload, err := invoicerequest.Build(doc, priv, certBody, templates)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	client, err := zatcaapi.New(req.Env, log)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	logging.Step(log, 2, "submitting compliance check")
	ccsid := models.CredentialSet{CCSIDToken: req.BinarySecurityToken, CCSIDSecret: req.Secret}
	check, err := client.ComplianceCheck(context.Background(), ccsid, payload.InvoiceHash, payload.UUID, payload.Invoice)
	if auditErr := store.Record(payload.UUID, audit.ActionSigned, "compliance check submitted", string(req.Env)); auditErr != nil {
		log.WithError(auditErr).Warn("failed to write compliance-check audit log")
	}
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	resp := models.ComplianceCheckResponse{
		InvoiceHash:      payload.InvoiceHash,
		CompliancePassed: check.Accepted(),
	}
	return writeSuccess(out, resp)
}

func runSubmission(raw []byte, cfg *config.Config, store *audit.Store, log *logrus.Entry, out io.Writer) int {
	var req models.SubmissionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeFatal(out, zatcaerr.ConfigWrap(err, "decoding submission request"))
		return 1
	}
	logging.Step(log, 1, "loaded reporting/clearance request")

	templates, err := cfg.Resources.Load()
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(req.XMLFilePath); err != nil {
		writeFatal(out, zatcaerr.ConfigWrap(err, "reading invoice XML %q", req.XMLFilePath))
		return 1
	}

	priv, err := parsePrivateKey(req.PrivateKey)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	client, err := zatcaapi.New(req.Env, log)
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	pcsid := models.CredentialSet{
		PCSIDToken:  req.ProductionBinarySecurityToken,
		PCSIDSecret: req.ProductionSecret,
	}

	logging.Step(log, 2, "submitting for reporting/clearance")
	result, err := submission.Run(context.Background(), client, pcsid, doc, priv, templates, log)
	if result != nil {
		action := audit.ActionReported
		if !result.IsSimplified {
			action = audit.ActionCleared
		}
		if !result.ReportingPassed {
			action = audit.ActionRejected
		}
		if auditErr := store.Record(result.InvoiceHash, action, "submission dispatched", string(req.Env)); auditErr != nil {
			log.WithError(auditErr).Warn("failed to write submission audit log")
		}
	}
	if err != nil {
		writeFatal(out, err)
		return 1
	}

	resp := models.SubmissionResponse{
		InvoiceHash:     result.InvoiceHash,
		ReportingPassed: result.ReportingPassed,
		ClearedInvoice:  result.ClearedInvoice,
		IsSimplified:    result.IsSimplified,
	}
	return writeSuccess(out, resp)
}

// sec1PrivateKey mirrors just the leading fields of RFC 5915's SEC1
// ECPrivateKey ::= SEQUENCE { version INTEGER, privateKey OCTET STRING,
// parameters [0] EXPLICIT ECParameters OPTIONAL, publicKey [1] EXPLICIT
// BIT STRING OPTIONAL }. x509.ParseECPrivateKey resolves the optional
// parameters field through the same NIST-curve-only namedCurveFromOID
// table that rejects secp256k1 elsewhere in this module, and it isn't
// needed here anyway: the private scalar alone is enough to reconstruct
// the key. encoding/asn1 tolerates the trailing optional fields it
// leaves undeclared.
type sec1PrivateKey struct {
	Version    int
	PrivateKey []byte
}

// parsePrivateKey reconstructs a secp256k1 private key from the
// PEM-stripped, newline-removed base64 form CredentialSet.PrivateKey and
// the onboarding response both use for transport.
func parsePrivateKey(strippedBase64 string) (*btcec.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(strippedBase64)
	if err != nil {
		return nil, zatcaerr.CryptoWrap(err, "decoding private key base64")
	}
	var key sec1PrivateKey
	if _, err := asn1.Unmarshal(der, &key); err != nil {
		return nil, zatcaerr.CryptoWrap(err, "parsing EC private key")
	}
	return btcec.PrivKeyFromBytes(key.PrivateKey), nil
}

func writeSuccess(out io.Writer, resp any) int {
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		fmt.Fprintln(out, `{"error":"failed to encode response"}`)
		return 1
	}
	return 0
}

func writeFatal(out io.Writer, err error) {
	envelope := map[string]string{
		"error":     err.Error(),
		"traceback": fmt.Sprintf("%+v", err),
	}
	json.NewEncoder(out).Encode(envelope)
}
