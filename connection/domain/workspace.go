package domain

import "time"

const DefaultMaxConnections = 5

type Workspace struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	MaxConnections       int       `json:"max_connections"`
	AutomationWebhookURL string    `json:"automation_webhook_url,omitempty"`
	AutomationSecret     string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Automation is the resolved outbound automation target of a workspace.
type Automation struct {
	URL    string
	Secret string
}

func (a Automation) Enabled() bool {
	return a.URL != ""
}
