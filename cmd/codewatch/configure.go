package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codewatch/codewatch-go/internal/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup wizard for CodeWatch (with OS keychain support)",
	Long: `Walk through CodeWatch configuration step-by-step with secure credential storage.

This will configure:
1. Anthropic API key (stored in OS keychain by default, never in plaintext)
2. GitHub token (server-side fallback for public repo access)
3. Service settings (listen address, database, NATS)`,
	RunE: runConfigure,
}

func runConfigure(cmd *cobra.Command, args []string) error {
	fmt.Println("🔧 CodeWatch Configuration Wizard")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	homeDir, _ := os.UserHomeDir()
	configPath := filepath.Join(homeDir, ".codewatch", "config.yaml")
	loadedCfg, err := config.Load(configPath)
	if err != nil {
		loadedCfg = config.Default()
	}

	km := config.NewKeyringManager()
	keychainAvailable := km.IsAvailable()
	if !keychainAvailable {
		fmt.Println("⚠️  OS keychain not available (headless system or Linux without libsecret)")
		fmt.Println("   API keys will be stored in the config file instead.")
		fmt.Println()
	}

	// Step 1: Anthropic API key
	fmt.Println("Step 1/3: Anthropic API Key")
	fmt.Println()

	current := loadedCfg.LLM.ServiceKey
	if current == "" && keychainAvailable {
		if key, err := km.GetAPIKey(); err == nil {
			current = key
		}
	}
	if current != "" {
		fmt.Printf("Current: %s\n", config.MaskAPIKey(current))
	} else {
		fmt.Println("CodeWatch uses the Anthropic API for component mapping, audit planning,")
		fmt.Println("and precise cost estimates. Get a key at: https://console.anthropic.com")
		fmt.Println()
	}

	apiKey, err := readSecret(reader, "Enter your Anthropic API key (starts with sk-ant-, empty to keep current): ")
	if err != nil {
		return err
	}
	if apiKey != "" {
		if !strings.HasPrefix(apiKey, "sk-ant-") {
			fmt.Println("⚠️  That does not look like an Anthropic key (expected sk-ant- prefix), saving anyway")
		}
		if keychainAvailable {
			if err := km.SaveAPIKey(apiKey); err != nil {
				fmt.Printf("⚠️  Failed to save to keychain: %v\n", err)
				fmt.Println("   Saving to config file instead...")
				loadedCfg.LLM.ServiceKey = apiKey
				loadedCfg.LLM.UseKeychain = false
			} else {
				fmt.Println("✅ API key saved to OS keychain")
				loadedCfg.LLM.ServiceKey = ""
				loadedCfg.LLM.UseKeychain = true
			}
		} else {
			loadedCfg.LLM.ServiceKey = apiKey
			loadedCfg.LLM.UseKeychain = false
		}
	}
	fmt.Println()

	// Step 2: GitHub token
	fmt.Println("Step 2/3: GitHub Token")
	fmt.Println()
	fmt.Println("Used as the server-side fallback for cloning public repositories and as")
	fmt.Println("the CLI's identity when talking to a CodeWatch server.")

	ghToken, err := readSecret(reader, "Enter a GitHub token (empty to keep current): ")
	if err != nil {
		return err
	}
	if ghToken != "" {
		if keychainAvailable {
			if err := km.SetGitHubToken(ghToken); err != nil {
				fmt.Printf("⚠️  Failed to save to keychain: %v\n", err)
				loadedCfg.GitHub.Token = ghToken
			} else {
				fmt.Println("✅ GitHub token saved to OS keychain")
				loadedCfg.GitHub.Token = ""
			}
		} else {
			loadedCfg.GitHub.Token = ghToken
		}
	}
	fmt.Println()

	// Step 3: Service settings
	fmt.Println("Step 3/3: Service Settings (press Enter to keep current values)")
	fmt.Println()

	loadedCfg.Server.Addr = promptDefault(reader, "Listen address", loadedCfg.Server.Addr)
	loadedCfg.Database.URL = promptDefault(reader, "PostgreSQL URL", loadedCfg.Database.URL)
	loadedCfg.Repos.RootDir = promptDefault(reader, "Repository checkout directory", loadedCfg.Repos.RootDir)
	loadedCfg.Events.NATSURL = promptDefault(reader, "NATS URL (empty disables progress events)", loadedCfg.Events.NATSURL)

	if err := loadedCfg.Save(configPath); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("✅ Configuration saved to %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  codewatch migrate          # apply the database schema")
	fmt.Println("  codewatch serve            # start the audit service")
	fmt.Println("  codewatch project create   # register an organization's repositories")

	return nil
}

// readSecret prompts without echoing when stdin is a terminal, and falls
// back to a plain line read for piped input.
func readSecret(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)

	if term.IsTerminal(int(syscall.Stdin)) {
		data, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return strings.TrimSpace(line), nil
}

func promptDefault(reader *bufio.Reader, label, current string) string {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	return line
}
