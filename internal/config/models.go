package config

// ClassifierConfig represents the configuration for the ML classifier subprocess
type ClassifierConfig struct {
	Type        string
	Command     string
	ScriptPath  string
	MaxBodySize int
}

// GraphConfig represents the configuration for the Microsoft Graph connection
type GraphConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURI  string
}

// GetClassifier returns the classifier configuration
func (c *Config) GetClassifier() ClassifierConfig {
	return ClassifierConfig{
		Type:        c.GetString("classifier.type"),
		Command:     c.GetString("classifier.command"),
		ScriptPath:  c.GetString("classifier.script_path"),
		MaxBodySize: c.GetInt("classifier.max_body_size"),
	}
}

// GetGraph returns the Microsoft Graph configuration
func (c *Config) GetGraph() GraphConfig {
	return GraphConfig{
		ClientID:     c.GetString("graph.client_id"),
		ClientSecret: c.GetString("graph.client_secret"),
		TenantID:     c.GetString("graph.tenant_id"),
		RedirectURI:  c.GetString("graph.redirect_uri"),
	}
}
