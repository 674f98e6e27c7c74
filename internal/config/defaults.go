package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

// DefaultConfig returns the built-in configuration. The personas are the
// study's original four; a config file replaces the whole list.
func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"server": map[string]interface{}{
			"port":                  8080,
			"read_timeout":          "30s",
			"write_timeout":         "60s",
			"shutdown_timeout":      "10s",
			"allowed_origins":       []string{"http://localhost:3000", "http://localhost:3001"},
			"rate_limit_per_second": 2.0,
			"rate_limit_burst":      5,
		},
		"upstream": map[string]interface{}{
			"timeout": "20s",
		},
		"registry": map[string]interface{}{
			"backend":    BackendStatic,
			"redis_url":  "",
			"key_prefix": "persona:",
		},
		"log": map[string]interface{}{
			"level": "info",
		},
		"providers": map[string]interface{}{
			"openai":    map[string]interface{}{"base_url": "https://api.openai.com/v1"},
			"meta":      map[string]interface{}{"base_url": "https://api-inference.huggingface.co/models"},
			"google":    map[string]interface{}{"base_url": "https://api.google.ai/gemini/v1"},
			"anthropic": map[string]interface{}{"base_url": "https://api.anthropic.com/v1"},
			"local":     map[string]interface{}{"base_url": "http://localhost:11434"},
		},
		"personas": []interface{}{
			map[string]interface{}{"nickname": "Sarah", "provider": "openai", "model": "gpt-4o", "credential_key": "OPENAI_API_KEY",
				"description": "A friendly and knowledgeable AI assistant"},
			map[string]interface{}{"nickname": "Peter", "provider": "openai", "model": "gpt-3.5-turbo", "credential_key": "OPENAI_API_KEY",
				"description": "A helpful and analytical AI assistant"},
			map[string]interface{}{"nickname": "James", "provider": "meta", "model": "meta-llama/Llama-3-70b-chat-hf", "credential_key": "HF_API_KEY",
				"description": "A creative and insightful AI assistant"},
			map[string]interface{}{"nickname": "Emily", "provider": "google", "model": "gemini-1.5-pro", "credential_key": "GEMINI_API_KEY",
				"description": "A versatile and adaptive AI assistant"},
		},
	}
}

func defaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}
