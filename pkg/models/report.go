package models

import "encoding/json"

// ReportResponse is the result of the report endpoint
type ReportResponse struct {
	HasReport bool             `json:"has_report"`
	Report    *DiagnosisReport `json:"report,omitempty"`
	Status    Status           `json:"status,omitempty"`
}

// DiagnosisReport is the backend-generated summary of a diagnosis.
// Root cause fields arrive as strings or objects depending on the producer.
type DiagnosisReport struct {
	Summary           string          `json:"summary,omitempty"`
	RootCause         json.RawMessage `json:"root_cause,omitempty"`
	RootCauseAnalysis json.RawMessage `json:"root_cause_analysis,omitempty"`
	Recommendations   json.RawMessage `json:"recommendations,omitempty"`
	GeneratedAt       string          `json:"generated_at,omitempty"`
}

// Page is one page of diagnosis records
type Page struct {
	Items []DiagnosisRecord `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page,omitempty"`
	Size  int               `json:"size,omitempty"`
}

// UnmarshalJSON accepts a bare array or an object carrying the records
// under "items", "list", "records" or "data".
func (p *Page) UnmarshalJSON(data []byte) error {
	var items []DiagnosisRecord
	if err := json.Unmarshal(data, &items); err == nil {
		*p = Page{Items: items, Total: len(items)}
		return nil
	}

	var raw struct {
		Items   []DiagnosisRecord `json:"items"`
		List    []DiagnosisRecord `json:"list"`
		Records []DiagnosisRecord `json:"records"`
		Data    []DiagnosisRecord `json:"data"`
		Total   int               `json:"total"`
		Page    int               `json:"page"`
		Size    int               `json:"size"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := Page{Total: raw.Total, Page: raw.Page, Size: raw.Size}
	switch {
	case raw.Items != nil:
		out.Items = raw.Items
	case raw.List != nil:
		out.Items = raw.List
	case raw.Records != nil:
		out.Items = raw.Records
	default:
		out.Items = raw.Data
	}
	if out.Total == 0 {
		out.Total = len(out.Items)
	}
	*p = out
	return nil
}

// AnyActive reports whether any record in the page is still being worked on.
func (p *Page) AnyActive() bool {
	return AnyActive(p.Items)
}

// AnyActive reports whether any of the records has an active status.
func AnyActive(records []DiagnosisRecord) bool {
	for _, r := range records {
		if r.Status.IsActive() {
			return true
		}
	}
	return false
}
