package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/crypto"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("wagate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	// Server
	fmt.Println()
	fmt.Println("  Server:")
	fmt.Printf("    %-12s %s\n", "Listen:", cfg.Addr())
	checkSecret("Token", cfg.Server.Token)
	if isServerReachable() {
		fmt.Printf("    %-12s running\n", "Process:")
	} else {
		fmt.Printf("    %-12s not reachable\n", "Process:")
	}

	// Storage
	fmt.Println()
	fmt.Println("  Storage:")
	backend := cfg.StorageBackend()
	fmt.Printf("    %-12s %s\n", "Backend:", backend)
	dataDir := config.ExpandHome(cfg.Storage.DataDir)
	checkDir("Data dir", dataDir)
	if backend != config.BackendPostgres {
		checkFile("Device db", filepath.Join(dataDir, "session.db"))
	}
	if backend == config.BackendFile {
		checkFile("Credentials", filepath.Join(dataDir, "creds.json"))
	}
	if backend == config.BackendMemory {
		fmt.Printf("    %-12s credentials are lost on restart\n", "Warning:")
	}
	if key := cfg.Storage.EncryptionKey; key != "" {
		if _, err := crypto.DeriveKey(key); err != nil {
			fmt.Printf("    %-12s INVALID (%s)\n", "Encryption:", err)
		} else {
			fmt.Printf("    %-12s AES-256-GCM\n", "Encryption:")
		}
	} else {
		fmt.Printf("    %-12s off\n", "Encryption:")
	}

	// Branding
	fmt.Println()
	fmt.Println("  Branding:")
	if cfg.Branding.Disabled {
		fmt.Printf("    %-12s disabled\n", "Wrapper:")
	} else {
		fmt.Printf("    %-12s %s (%s)\n", "Channel:", cfg.Branding.ChannelName, cfg.Branding.ChannelJID)
		fmt.Printf("    %-12s %s\n", "Expires:", cfg.Branding.Disappearing)
	}

	// Media
	fmt.Println()
	fmt.Println("  Media:")
	if len(cfg.Media.Roots) == 0 {
		fmt.Printf("    %-12s disabled\n", "Local refs:")
	} else {
		fmt.Printf("    %-12s %s\n", "Local refs:", strings.Join(cfg.Media.Roots, ", "))
	}
	if cfg.Media.S3Region != "" || cfg.Media.S3Endpoint != "" {
		fmt.Printf("    %-12s %s %s\n", "S3:", cfg.Media.S3Region, cfg.Media.S3Endpoint)
	}

	// Telemetry
	fmt.Println()
	if cfg.Telemetry.Enabled {
		fmt.Printf("  Telemetry: %s (%s)\n", cfg.Telemetry.Endpoint, orDefaultString(cfg.Telemetry.Protocol, "grpc"))
	} else {
		fmt.Println("  Telemetry: disabled")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(name, value string) {
	if value == "" {
		fmt.Printf("    %-12s (not configured, /send is open)\n", name+":")
		return
	}
	masked := "****"
	if len(value) > 8 {
		masked = value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}

func checkDir(name, path string) {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		fmt.Printf("    %-12s %s (NOT FOUND, created on start)\n", name+":", path)
	case !info.IsDir():
		fmt.Printf("    %-12s %s (NOT A DIRECTORY)\n", name+":", path)
	default:
		fmt.Printf("    %-12s %s (OK)\n", name+":", path)
	}
}

func checkFile(name, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s (none yet)\n", name+":", path)
	} else {
		fmt.Printf("    %-12s %s (OK)\n", name+":", path)
	}
}

func orDefaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
