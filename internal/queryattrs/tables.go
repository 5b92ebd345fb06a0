package queryattrs

import "strings"

// topicTable maps a substring to its canonical topic. Closed vocabulary.
var topicTable = map[string]string{
	"timeline":    "timeline",
	"release":     "release",
	"deploy":      "deployment",
	"deployment":  "deployment",
	"incident":    "incident",
	"outage":      "incident",
	"audit":       "audit",
	"data":        "data",
	"monitor":     "monitoring",
	"monitoring":  "monitoring",
	"governance":  "governance",
	"compliance":  "governance",
	"security":    "security",
	"performance": "performance",
}

// docTypeTable maps a substring to its canonical doc type.
var docTypeTable = map[string]string{
	"incident":   "incident",
	"postmortem": "incident",
	"runbook":    "runbook",
	"how-to":     "runbook",
	"howto":      "runbook",
	"decision":   "decision",
	"adr":        "decision",
	"snippet":    "snippet",
	"process":    "process",
	"procedure":  "process",
}

// severityTable maps a substring to its canonical severity.
var severityTable = map[string]string{
	"critical": "critical",
	"sev1":     "critical",
	"sev-1":    "critical",
	"high":     "high",
	"sev2":     "high",
	"sev-2":    "high",
	"medium":   "medium",
	"sev3":     "medium",
	"low":      "low",
	"minor":    "low",
}

// projectTable maps known aliases and Japanese/Spanish synonyms to a
// canonical project name. Entries here are illustrative seed data; callers
// extend the table for their own project catalogue.
var projectTable = map[string]string{
	"payments":      "payments",
	"pago":          "payments",
	"支払い":           "payments",
	"決済":            "payments",
	"checkout":      "checkout",
	"caja":          "checkout",
	"レジ":            "checkout",
	"billing":       "billing",
	"facturacion":   "billing",
	"請求":            "billing",
	"auth":          "auth",
	"autenticacion": "auth",
	"認証":            "auth",
}

func lookupSubstring(table map[string]string, haystack string) (string, bool) {
	for substr, canonical := range table {
		if strings.Contains(haystack, substr) {
			return canonical, true
		}
	}
	return "", false
}
