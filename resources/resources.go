// Package resources loads the on-disk assets the signing pipeline treats
// as fixed external contracts: the UBL invoice template consumed by the
// invoice modeler, and the two XML fragments ("UBL signature block" and
// "signature QR wrapper") the XAdES signer splices signed content into.
//
// The teacher's config package reads paths from environment variables and
// opens files ad hoc wherever it needs them; this package instead collects
// every path into one explicit struct so no component depends on an
// implicit working directory (spec.md section 9's re-architecture note).
package resources

import (
	"os"

	"github.com/beevik/etree"

	"github.com/zatca-go/fatoora-client/zatcaerr"
)

// Paths names every on-disk asset the pipeline reads. The XSLT stylesheet
// path is retained for configuration fidelity with the external contract
// described in spec.md section 1, even though Strip (package canon)
// reproduces its narrow, fixed effect natively rather than interpreting
// the stylesheet at runtime — see canon.Strip's doc comment.
type Paths struct {
	XSLTPath                 string
	UBLInvoiceTemplatePath   string
	UBLSignatureTemplatePath string
	QRWrapperTemplatePath    string
}

// Loaded holds the parsed/raw contents of every asset named by Paths.
type Loaded struct {
	UBLInvoiceTemplate   *etree.Document
	UBLSignatureTemplate string
	QRWrapperTemplate    string
}

// Load reads every asset named by p. A missing or unreadable file is a
// ConfigError: these are deployment assets, not optional ones.
func (p Paths) Load() (*Loaded, error) {
	tplDoc := etree.NewDocument()
	if err := tplDoc.ReadFromFile(p.UBLInvoiceTemplatePath); err != nil {
		return nil, zatcaerr.ConfigWrap(err, "reading UBL invoice template %q", p.UBLInvoiceTemplatePath)
	}

	sigTpl, err := readFile(p.UBLSignatureTemplatePath)
	if err != nil {
		return nil, err
	}
	qrTpl, err := readFile(p.QRWrapperTemplatePath)
	if err != nil {
		return nil, err
	}

	return &Loaded{
		UBLInvoiceTemplate:   tplDoc,
		UBLSignatureTemplate: sigTpl,
		QRWrapperTemplate:    qrTpl,
	}, nil
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", zatcaerr.ConfigWrap(err, "reading resource %q", path)
	}
	return string(b), nil
}
