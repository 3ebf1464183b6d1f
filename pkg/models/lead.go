package models

import "time"

// Lead is a CRM record written by crm_write nodes. Leads are unique per tenant and email.
type Lead struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Email     string         `json:"email"`
	Name      string         `json:"name,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Source    string         `json:"source,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
