// Package config loads the taxpayer-client's runtime configuration from
// a .env file and environment variables, the same two-tier pattern the
// teacher's own config package uses for SUNAT: godotenv first, then
// os.Getenv with a default, never a hard failure when .env is absent.
package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zatca-go/fatoora-client/models"
	"github.com/zatca-go/fatoora-client/resources"
)

// Config is everything a CLI invocation needs that isn't carried in the
// per-request stdin envelope: the target environment, resource asset
// paths, the audit database location, and the log level.
type Config struct {
	Environment models.Environment

	Resources resources.Paths

	AuditDatabasePath string

	LogLevel string
}

// Load reads .env (if present) and environment variables into a Config.
// A missing .env file is logged, not fatal — the teacher's own Load does
// the same, since environment variables alone are a valid deployment.
func Load(log *logrus.Entry) *Config {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := godotenv.Load(); err != nil {
		log.Warn(".env file not found, using environment variables")
	}

	return &Config{
		Environment: models.Environment(getEnv("ZATCA_ENVIRONMENT", string(models.NonProduction))),
		Resources: resources.Paths{
			XSLTPath:                 getEnv("ZATCA_XSLT_PATH", "resources/xslfile.xsl"),
			UBLInvoiceTemplatePath:   getEnv("ZATCA_UBL_TEMPLATE_PATH", "resources/zatca_ubl.xml"),
			UBLSignatureTemplatePath: getEnv("ZATCA_SIGNATURE_TEMPLATE_PATH", "resources/zatca_signature.xml"),
			QRWrapperTemplatePath:    getEnv("ZATCA_QR_TEMPLATE_PATH", "resources/zatca_qr.xml"),
		},
		AuditDatabasePath: getEnv("ZATCA_AUDIT_DB_PATH", "audit.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
