package caseflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/medsolicita/case-api/internal/model"
)

// renderSignedDocument produces the signed rendition of a document: a
// markdown artifact combining the request type, patient and doctor identity,
// the clinical content and the issuance timestamp.
func renderSignedDocument(c *model.Case, patient, doctor *model.User, content string, signedAt time.Time) string {
	crm := ""
	if doctor.CRM != nil {
		crm = *doctor.CRM
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Documento Médico: %s\n\n", c.RequestType)
	fmt.Fprintf(&b, "**Paciente:** %s\n\n", patient.FullName)
	fmt.Fprintf(&b, "**Médico:** %s (CRM %s)\n\n", doctor.FullName, crm)
	fmt.Fprintf(&b, "---\n\n%s\n\n---\n\n", content)
	fmt.Fprintf(&b, "Assinado digitalmente em %s\n", signedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Caso %s\n", c.ID)
	return b.String()
}
