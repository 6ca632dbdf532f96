package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/inkwell-tools/signsync/pkg/version"
)

var (
	cfgFile      string
	testMode     bool
	userScope    string
	jsonLogs     bool
	verbose      bool
	outputDir    string
	otelEndpoint string
)

var rootCmd = &cobra.Command{
	Use:   "signsync",
	Short: "Directory to sign-org account reconciliation",
	Long: `signsync keeps a sign org's user roster, groups, and admin roles in
step with an identity directory, driven by one YAML configuration file.`,
	Version: version.Current,
	// Run: nil (Forces help output).
	Run: nil,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "sign-sync-config.yml", "Path to the sync configuration file")
	rootCmd.PersistentFlags().BoolVarP(&testMode, "test-mode", "t", false, "Resolve decisions without issuing any mutating calls")
	rootCmd.PersistentFlags().StringVar(&userScope, "users", "", "Directory read scope: mapped or all (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log lines")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "signsync-out", "Directory for run artifacts")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint for traces")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetConfigFile(filepath.Join(home, ".signsync.yaml"))
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("SIGNSYNC")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	if viper.IsSet("output_dir") && !rootCmd.PersistentFlags().Changed("output-dir") {
		outputDir = viper.GetString("output_dir")
	}
	if viper.IsSet("otel_endpoint") && !rootCmd.PersistentFlags().Changed("otel-endpoint") {
		otelEndpoint = viper.GetString("otel_endpoint")
	}
}

func renderHelp(cmd *cobra.Command) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00AAFF")).
		MarginBottom(1)

	flagStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA"))

	fmt.Println(titleStyle.Render(fmt.Sprintf("SIGNSYNC %s", version.Current)))
	fmt.Println("Directory to sign-org account reconciliation.")

	fmt.Println(titleStyle.Render("USAGE"))
	fmt.Printf("  %s\n\n", cmd.UseLine())

	fmt.Println(titleStyle.Render("COMMANDS"))
	for _, c := range cmd.Commands() {
		if c.IsAvailableCommand() {
			fmt.Printf("  %-12s %s\n", c.Name(), c.Short)
		}
	}
	fmt.Println("")

	fmt.Println(titleStyle.Render("EXAMPLES"))
	fmt.Println("  signsync sync --config sign-sync-config.yml")
	fmt.Println("  signsync sync --test-mode       # decisions only, no API writes")
	fmt.Println("  signsync validate               # check configuration and exit")
	fmt.Println("")

	fmt.Println(titleStyle.Render("FLAGS"))
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		output := fmt.Sprintf("  --%-15s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" {
			output += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Println(flagStyle.Render(output))
	})
	fmt.Println("")
}
