// Package onboarding drives the four-stage ZATCA onboarding sequence:
// generate a CSR, exchange it for a compliance CSID, push six sample
// documents through the compliance-checks endpoint, then exchange the
// compliance request ID for a production CSID.
package onboarding

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/zatca-go/fatoora-client/csr"
	"github.com/zatca-go/fatoora-client/invoice"
	"github.com/zatca-go/fatoora-client/invoicerequest"
	"github.com/zatca-go/fatoora-client/models"
	"github.com/zatca-go/fatoora-client/resources"
	"github.com/zatca-go/fatoora-client/zatcaapi"
	"github.com/zatca-go/fatoora-client/zatcaerr"
)

// seedPIH is the fixed PIH every onboarding run starts its chain from:
// the base64 encoding of the hex SHA-256 digest of the string "0".
const seedPIH = "NWZlY2ViNjZmZmM4NmYzOGQ5NTI3ODZjNmQ2OTZjNzljMmRiYzIzOWRkNGU5MWI0NjcyOWQ3M2EyN2ZiNTdlOQ=="

// sampleDocument is one entry in the fixed six-document onboarding
// sequence: a document-ID prefix, its UBL type code, a human
// description for logging, and the instruction note used for credit and
// debit notes (standard invoices and simplified invoices carry none).
type sampleDocument struct {
	Prefix          string
	TypeCode        string
	Description     string
	InstructionNote string
}

var sampleDocuments = []sampleDocument{
	{"STDSI", "388", "Standard Invoice", ""},
	{"STDCN", "383", "Standard CreditNote", "InstructionNotes for Standard CreditNote"},
	{"STDDN", "381", "Standard DebitNote", "InstructionNotes for Standard DebitNote"},
	{"SIMSI", "388", "Simplified Invoice", ""},
	{"SIMCN", "383", "Simplified CreditNote", "InstructionNotes for Simplified CreditNote"},
	{"SIMDN", "381", "Simplified DebitNote", "InstructionNotes for Simplified DebitNote"},
}

// Result is everything a successful onboarding run produces, ready to be
// persisted by the caller and reused for later submissions.
type Result struct {
	Credentials     models.CredentialSet
	ComplianceCheck models.ComplianceCheckTally
}

// Run executes the full onboarding sequence against client's environment.
// template is the UBL invoice template each sample document is cloned
// from; cfg carries the taxpayer fields substituted into the CSR. client
// is injected rather than built here so callers can point it at a test
// server or reuse one across onboarding and submission.
func Run(ctx context.Context, client *zatcaapi.Client, env models.Environment, cfg models.CsrConfig, otp string, req models.OnboardingRequest, template *resources.Loaded, log *logrus.Entry) (*Result, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	log.Info("generating CSR and secp256k1 key pair")
	csrResult, err := csr.Build(cfg, env)
	if err != nil {
		return nil, err
	}

	creds := models.CredentialSet{
		Environment: env,
		CSR:         csrResult.CSRBase64,
		PrivateKey:  csrResult.PrivateKeyPEM,
		OTP:         otp,
	}

	log.Info("requesting compliance CSID")
	ccsid, err := client.ComplianceCSIDRequest(ctx, creds.CSR, otp)
	if err != nil {
		return nil, err
	}
	creds.CCSIDRequestID = ccsid.RequestID
	creds.CCSIDToken = ccsid.BinarySecurityToken
	creds.CCSIDSecret = ccsid.Secret

	ccsidCertBody, err := zatcaapi.DecodeCertificateBody(ccsid.BinarySecurityToken)
	if err != nil {
		return nil, err
	}

	tally := models.ComplianceCheckTally{}
	icv := 0
	pih := seedPIH

	for _, sample := range sampleDocuments {
		icv++
		isSimplified := len(sample.Prefix) >= 3 && sample.Prefix[:3] == "SIM"
		name := "0100000"
		if isSimplified {
			name = "0200000"
		}

		log.WithFields(logrus.Fields{"document": sample.Description, "icv": icv}).Info("building sample document")

		mutated, err := invoice.Apply(template.UBLInvoiceTemplate, invoice.Mutation{
			DocumentID:      sample.Prefix + "-0001",
			TypeCode:        invoice.TypeCode{Name: name, Value: sample.TypeCode},
			ICV:             icv,
			PIH:             pih,
			InstructionNote: sample.InstructionNote,
			VAT:             req.VAT,
			CRN:             req.CRN,
			InvoiceCode:     req.InvoiceCode,
		})
		if err != nil {
			return nil, err
		}

		payload, err := invoicerequest.Build(mutated, csrResult.PrivateKey, ccsidCertBody, template)
		if err != nil {
			return nil, err
		}

		check, err := client.ComplianceCheck(ctx, creds, payload.InvoiceHash, payload.UUID, payload.Invoice)
		if err != nil {
			return nil, err
		}

		passed := check.Accepted()
		setTallyEntry(&tally, sample.Prefix, passed)
		if !passed {
			return &Result{Credentials: creds, ComplianceCheck: tally}, zatcaerr.Protocol(
				"compliance check failed for %s: reportingStatus=%q clearanceStatus=%q",
				sample.Description, check.ReportingStatus, check.ClearanceStatus)
		}

		pih = payload.InvoiceHash
		log.WithField("document", sample.Description).Info("compliance check passed")
	}

	log.Info("requesting production CSID")
	pcsid, err := client.ProductionCSIDRequest(ctx, creds)
	if err != nil {
		return nil, err
	}
	creds.PCSIDRequestID = pcsid.RequestID
	creds.PCSIDToken = pcsid.BinarySecurityToken
	creds.PCSIDSecret = pcsid.Secret
	creds.LastICV = icv
	creds.LastInvoiceHash = pih

	return &Result{Credentials: creds, ComplianceCheck: tally}, nil
}

func setTallyEntry(tally *models.ComplianceCheckTally, prefix string, passed bool) {
	switch prefix {
	case "STDSI":
		tally.StandardInvoice = passed
	case "STDCN":
		tally.StandardCreditNote = passed
	case "STDDN":
		tally.StandardDebitNote = passed
	case "SIMSI":
		tally.SimplifiedInvoice = passed
	case "SIMCN":
		tally.SimplifiedCreditNote = passed
	case "SIMDN":
		tally.SimplifiedDebitNote = passed
	}
}
