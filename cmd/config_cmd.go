package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/wagate/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
	}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configPathCmd())
	cmd.AddCommand(configValidateCmd())
	cmd.AddCommand(configDefaultsCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration, env overrides applied (secrets redacted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printConfig(redactConfig(cfg), asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	return cmd
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Config at %s is valid (storage: %s, listen: %s).\n",
				resolveConfigPath(), cfg.StorageBackend(), cfg.Addr())
			return nil
		},
	}
}

func configDefaultsCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in defaults as a starting config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(config.Default(), asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	return cmd
}

func printConfig(v interface{}, asYAML bool) error {
	var (
		data []byte
		err  error
	)
	if asYAML {
		data, err = yaml.Marshal(v)
	} else {
		data, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

var secretKeys = map[string]bool{
	"token": true, "encryptionKey": true,
	"postgresDsn": true, "redisUrl": true,
	"s3AccessKeyId": true, "s3SecretAccessKey": true,
}

// redactConfig returns a JSON-safe copy with secrets masked.
func redactConfig(cfg *config.Config) interface{} {
	data, _ := json.Marshal(cfg)
	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	redactMap(raw)
	return raw
}

func redactMap(m map[string]interface{}) {
	for k, v := range m {
		switch sub := v.(type) {
		case string:
			if secretKeys[k] {
				m[k] = mask(sub)
			}
		case map[string]interface{}:
			if k == "headers" {
				// OTLP headers usually carry auth.
				for hk, hv := range sub {
					if s, ok := hv.(string); ok {
						sub[hk] = mask(s)
					}
				}
				continue
			}
			redactMap(sub)
		}
	}
}

func mask(s string) string {
	switch {
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	case s != "":
		return "****"
	default:
		return ""
	}
}
