package config

// Model is one entry in the model catalog exposed to clients.
// ID is the public identifier accepted by the turn endpoint;
// ProviderModel is the provider-qualified genkit model name it resolves to
// (e.g. "googleai/gemini-2.5-flash", "openai/gpt-4o").
type Model struct {
	ID            string `mapstructure:"id" json:"id"`
	Label         string `mapstructure:"label" json:"label"`
	ProviderModel string `mapstructure:"provider_model" json:"provider_model"`
}

// LookupModel resolves a public model id against the catalog.
// The second return value is false when the id is not configured.
func (c *Config) LookupModel(id string) (Model, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}
