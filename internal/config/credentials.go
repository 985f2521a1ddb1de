package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// CredentialManager resolves GitHub tokens with a priority chain:
// environment → keychain → credentials file → interactive prompt.
type CredentialManager struct {
	keyring    *KeyringManager
	configPath string
	stdin      io.Reader
	stdout     io.Writer
}

// Credentials is the on-disk credentials file layout
type Credentials struct {
	GitHubTokens []string `yaml:"github_tokens"`
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager(logger logrus.FieldLogger) *CredentialManager {
	homeDir, _ := os.UserHomeDir()
	return &CredentialManager{
		keyring:    NewKeyringManager(logger),
		configPath: filepath.Join(homeDir, ".config", "osspulse", "credentials.yaml"),
		stdin:      os.Stdin,
		stdout:     os.Stdout,
	}
}

// ResolveGitHubTokens fills cfg.GitHub.Tokens when the environment and
// config file left it empty.
func (cm *CredentialManager) ResolveGitHubTokens(cfg *Config, interactive bool) error {
	if len(cfg.GitHub.Tokens) > 0 {
		return nil
	}

	if cm.keyring.IsAvailable() {
		if token, err := cm.keyring.GetGitHubToken(); err == nil && token != "" {
			cfg.GitHub.Tokens = []string{token}
			return nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && len(creds.GitHubTokens) > 0 {
		cfg.GitHub.Tokens = creds.GitHubTokens
		return nil
	}

	if interactive && isInteractive() {
		fmt.Fprintln(cm.stdout, "GitHub token not found.")
		fmt.Fprintln(cm.stdout, "Create one at: https://github.com/settings/tokens")
		token, err := cm.PromptGitHubToken()
		if err != nil {
			return err
		}
		cfg.GitHub.Tokens = []string{token}
		return nil
	}

	return errors.Wrap(errors.ErrNoCredentialsConfigured, errors.ErrorTypeNoCredentials, errors.SeverityCritical,
		fmt.Sprintf("set GITHUB_TOKEN_1..N, run 'pulse config set-token', or add github_tokens to %s", cm.configPath))
}

// PromptGitHubToken reads a token without echo and stores it in the
// keychain, falling back to the credentials file.
func (cm *CredentialManager) PromptGitHubToken() (string, error) {
	fmt.Fprint(cm.stdout, "Enter GitHub Token: ")
	token, err := cm.readSecurely()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.ConfigErrorf("GitHub token is required")
	}

	if cm.keyring.IsAvailable() {
		if err := cm.keyring.SetGitHubToken(token); err == nil {
			fmt.Fprintln(cm.stdout, "Saved to keychain")
			return token, nil
		}
	}
	if err := cm.saveConfigFile(Credentials{GitHubTokens: []string{token}}); err == nil {
		fmt.Fprintf(cm.stdout, "Saved to %s\n", cm.configPath)
	}
	return token, nil
}

// GetConfigPath returns the path to the credentials file
func (cm *CredentialManager) GetConfigPath() string {
	return cm.configPath
}

func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	// user-only read/write
	return os.WriteFile(cm.configPath, data, 0600)
}

// readSecurely reads a token from stdin without echoing
func (cm *CredentialManager) readSecurely() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		bytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(cm.stdout)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(cm.stdin)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped)
func isInteractive() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// MaskedYAML renders the configuration with every secret masked.
func (c *Config) MaskedYAML() ([]byte, error) {
	masked := *c
	masked.GitHub.Tokens = make([]string, len(c.GitHub.Tokens))
	for i, token := range c.GitHub.Tokens {
		masked.GitHub.Tokens[i] = MaskToken(token)
	}
	if c.Storage.PostgresDSN != "" {
		masked.Storage.PostgresDSN = "***"
	}
	if c.Storage.MongoURI != "" {
		masked.Storage.MongoURI = "***"
	}
	if c.Ledger.PostgresDSN != "" {
		masked.Ledger.PostgresDSN = "***"
	}
	if c.Cache.RedisPassword != "" {
		masked.Cache.RedisPassword = "***"
	}
	if c.Graph.Neo4jPassword != "" {
		masked.Graph.Neo4jPassword = "***"
	}
	return yaml.Marshal(masked)
}
