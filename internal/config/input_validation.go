package config

import (
	"fmt"
	"net/url"
	"unicode"
)

const (
	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB

	// MaxDSNLength is the maximum allowed length for a store DSN
	MaxDSNLength = 1024
)

// ValidateInputs performs additional security validation on user-controllable fields.
// This prevents potential DoS attacks, injection attacks, and other security issues.
func (c *Config) ValidateInputs() error {
	if !c.Generation.Mock {
		if err := validateModelName(c.Generator.ModelName); err != nil {
			return err
		}
		if err := validateBaseURL(c.Generator.BaseURL); err != nil {
			return err
		}
	}

	if err := c.validateTemplateSizes(); err != nil {
		return err
	}

	if len(c.Store.DSN) > MaxDSNLength {
		return fmt.Errorf("store.dsn exceeds maximum length of %d (got %d)",
			MaxDSNLength, len(c.Store.DSN))
	}
	if containsControlChars(c.Store.DSN) {
		return fmt.Errorf("store.dsn contains invalid control characters")
	}

	return nil
}

// validateModelName checks the model name for security issues
func validateModelName(modelName string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("generator.model_name exceeds maximum length of %d (got %d)",
			MaxModelNameLength, len(modelName))
	}

	// Check for control characters
	if containsControlChars(modelName) {
		return fmt.Errorf("generator.model_name contains invalid control characters")
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("generator.base_url is invalid: %w", err)
	}

	// Check scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("generator.base_url must use http or https scheme (got %s)", u.Scheme)
	}

	// Check host is present
	if u.Host == "" {
		return fmt.Errorf("generator.base_url must have a host")
	}

	return nil
}

// validateTemplateSizes checks that templates are within reasonable size limits
func (c *Config) validateTemplateSizes() error {
	templates := []struct {
		name  string
		value string
	}{
		{"prompt_template", c.Generator.PromptTemplate},
		{"system_prompt", c.Generator.SystemPrompt},
	}

	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return fmt.Errorf("generator.%s exceeds maximum size of %d bytes (got %d)",
				tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
