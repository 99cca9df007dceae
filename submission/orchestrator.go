// Package submission sends one already-mutated invoice document through
// reporting (simplified/B2C invoices) or clearance (standard/B2B
// invoices), dispatching on the document's own InvoiceTypeCode rather
// than trusting a caller-supplied flag.
package submission

import (
	"context"

	"github.com/beevik/etree"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/sirupsen/logrus"

	"github.com/zatca-go/fatoora-client/invoice"
	"github.com/zatca-go/fatoora-client/invoicerequest"
	"github.com/zatca-go/fatoora-client/models"
	"github.com/zatca-go/fatoora-client/resources"
	"github.com/zatca-go/fatoora-client/zatcaapi"
)

// Result is the stdout-envelope-ready outcome of one submission.
type Result struct {
	InvoiceHash     string
	ReportingPassed bool
	ClearedInvoice  string
	IsSimplified    bool
}

// Run canonicalizes and (if simplified) signs doc, then submits it to
// the reporting or clearance endpoint according to its own type code.
// Cleared-invoice extraction is asymmetric by design: clearance returns
// the authority-cleared invoice in its response, but reporting's
// response carries no echoed invoice, so the locally signed payload
// is reused as the cleared invoice in that case.
func Run(ctx context.Context, client *zatcaapi.Client, pcsid models.CredentialSet, doc *etree.Document, priv *btcec.PrivateKey, templates *resources.Loaded, log *logrus.Entry) (*Result, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	isSimplified, err := invoice.IsSimplified(doc)
	if err != nil {
		return nil, err
	}

	certBody, err := zatcaapi.DecodeCertificateBody(pcsid.PCSIDToken)
	if err != nil {
		return nil, err
	}

	payload, err := invoicerequest.Build(doc, priv, certBody, templates)
	if err != nil {
		return nil, err
	}

	var check *zatcaapi.CheckResponse
	if isSimplified {
		log.WithField("uuid", payload.UUID).Info("submitting simplified invoice for reporting")
		check, err = client.Reporting(ctx, pcsid, payload.InvoiceHash, payload.UUID, payload.Invoice)
	} else {
		log.WithField("uuid", payload.UUID).Info("submitting standard invoice for clearance")
		check, err = client.Clearance(ctx, pcsid, payload.InvoiceHash, payload.UUID, payload.Invoice)
	}
	if err != nil {
		return nil, err
	}

	result := &Result{
		InvoiceHash:     payload.InvoiceHash,
		ReportingPassed: check.Accepted(),
		IsSimplified:    isSimplified,
	}
	if !result.ReportingPassed {
		return result, nil
	}

	if isSimplified {
		result.ClearedInvoice = payload.Invoice
	} else {
		result.ClearedInvoice = check.ClearedInvoice
	}
	return result, nil
}
