package domain

type CreateRequest struct {
	InstanceName    string          `json:"instance_name"`
	HistoryRecovery HistoryRecovery `json:"history_recovery"`
}

type AutomationRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}
