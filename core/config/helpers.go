package config

import "strings"

// GetAllSettings returns the non-secret settings currently loaded in memory.
func GetAllSettings() map[string]any {
	if Global == nil {
		return map[string]any{}
	}
	return map[string]any{
		"app_version":                     Global.App.Version,
		"app_debug":                       Global.App.Debug,
		"db_driver":                       Global.Database.Driver,
		"valkey_enabled":                  Global.Database.ValkeyEnabled,
		"evolution_base_url":              Global.Evolution.BaseURL,
		"webhook_public_url":              Global.Webhook.PublicURL,
		"webhook_by_events":               Global.Webhook.ByEvents,
		"reconciler_poll_interval":        Global.Reconciler.PollInterval.String(),
		"reconciler_qr_fallback_timeout":  Global.Reconciler.QRFallbackTimeout.String(),
		"reconciler_qr_fallback_interval": Global.Reconciler.QRFallbackInterval.String(),
		"message_worker_pool_size":        Global.WorkerPool.Size,
	}
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
