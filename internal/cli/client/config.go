package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	envAPIKey = "RAGFLOW_API_KEY"
	envAPIURL = "RAGFLOW_API_URL"

	defaultAPIURL = "http://localhost:8080"
)

// GlobalConfig is the credential file written by `ragflow auth login`.
type GlobalConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
}

var apiKeyPattern = regexp.MustCompile(`^rfk_[0-9a-fA-F]{64}$`)

var (
	getConfigDirFunc  = defaultGetConfigDir
	getConfigPathFunc = defaultGetConfigPath
)

func defaultGetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "ragflow"), nil
}

func defaultGetConfigPath() (string, error) {
	configDir, err := getConfigDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

func GetConfigDir() (string, error) {
	return getConfigDirFunc()
}

func GetConfigPath() (string, error) {
	return getConfigPathFunc()
}

// LoadGlobalConfig returns a nil config, not an error, when no file exists.
func LoadGlobalConfig() (*GlobalConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// SaveGlobalConfig writes the file readable by the owner only.
func SaveGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func DeleteGlobalConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}

	return nil
}

// IsValidAPIKey reports whether key looks like rfk_ followed by 64 hex digits.
func IsValidAPIKey(key string) bool {
	return apiKeyPattern.MatchString(key)
}

// CredentialSource records where the active credentials came from.
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceNone         CredentialSource = "none"
)

// GetCredentialSource resolves a complete key and URL pair, checking flags,
// then the environment, then the global config.
func GetCredentialSource(flagAPIKey, flagAPIURL string) (CredentialSource, string, string) {
	if flagAPIKey != "" && flagAPIURL != "" {
		return SourceFlag, flagAPIKey, flagAPIURL
	}

	envKey := os.Getenv(envAPIKey)
	envURL := os.Getenv(envAPIURL)
	if envKey != "" && envURL != "" {
		return SourceEnv, envKey, envURL
	}

	config, err := LoadGlobalConfig()
	if err == nil && config != nil && config.APIKey != "" && config.APIURL != "" {
		return SourceGlobalConfig, config.APIKey, config.APIURL
	}

	return SourceNone, "", ""
}
