package main

import (
	"encoding/json"
	"fmt"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	golog "github.com/textileio/go-log/v2"
	"github.com/nameswap/market-core/cmd/common"
	"github.com/nameswap/market-core/cmd/marketd/service"
	"github.com/nameswap/market-core/finalizer"
	"github.com/nameswap/market-core/market"
)

var (
	cliName         = "marketd"
	defaultRepoPath = filepath.Join(os.Getenv("HOME"), "."+cliName)
	log             = golog.Logger(cliName)
	v               = viper.New()
)

func init() {
	rootCmd.AddCommand(initCmd, daemonCmd)

	flags := []common.Flag{
		{Name: "repo", DefValue: defaultRepoPath, Description: "Repo path"},
		{Name: "http-addr", DefValue: ":8989", Description: "HTTP API listen address"},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{
			Name:        "treasury-addr",
			DefValue:    "deployment-treasury",
			Description: "Treasury address receiving the deployment half of cancellation fees",
		},
		{Name: "max-hooks-per-kind", DefValue: 10, Description: "Max listeners per hook registry"},
		{Name: "hook-timeout", DefValue: time.Second * 10, Description: "Timeout for outbound hook calls"},
		{
			Name:        "minter-addr",
			DefValue:    "",
			Description: "Factory address authorized to list tokens; used for first-run setup",
		},
		{
			Name:        "collection-addr",
			DefValue:    "",
			Description: "Collection address backing listed tokens; used for first-run setup",
		},
		{Name: "trading-fee-bps", DefValue: uint64(200), Description: "Trading fee on settled sales in basis points"},
		{Name: "min-price", DefValue: uint64(100), Description: "Minimum accepted bid amount"},
		{Name: "ask-interval", DefValue: time.Minute, Description: "Minimum interval between ask creations"},
		{Name: "valid-bid-query-limit", DefValue: 30, Description: "Price index scan batch size"},
		{Name: "cooldown-duration", DefValue: time.Hour * 24, Description: "Settlement window duration"},
		{Name: "cooldown-cancel-fee", DefValue: uint64(500), Description: "Exact fee to cancel a pending settlement"},
		{Name: "fee-denom", DefValue: "ubtsg", Description: "Native fee denomination"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level log"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}

	cobra.OnInitialize(func() {
		v.SetConfigType("json")
		v.SetConfigName("config")
		v.AddConfigPath(os.Getenv("MARKETD_PATH"))
		v.AddConfigPath(defaultRepoPath)
		_ = v.ReadInConfig()
	})

	common.ConfigureCLI(v, "MARKETD", flags, rootCmd)
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "marketd runs the account marketplace",
	Long: `marketd runs the account marketplace.

It keeps listings, escrowed bids, and cooldown settlements in a local repo
and serves commands and queries over HTTP.

To get started, run 'marketd init' followed by 'marketd daemon'.
`,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes the marketd configuration file",
	Long: `Initializes the marketd configuration file.

marketd uses a repository in the local file system. By default, the repo is
located at ~/.marketd. To change the repo location, set the $MARKETD_PATH
environment variable:

    export MARKETD_PATH=/path/to/marketdrepo
`,
	Run: func(c *cobra.Command, args []string) {
		path, err := writeConfig()
		common.CheckErrf("writing config: %v", err)

		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		common.CheckErrf("marshaling config: %v", err)
		fmt.Println(string(settings))

		fmt.Printf("Initialized configuration file: %s\n", path)
	},
}

func writeConfig() (string, error) {
	dir := os.Getenv("MARKETD_PATH")
	if dir == "" {
		dir = defaultRepoPath
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("creating repo dir: %v", err)
	}
	path := filepath.Join(dir, "config")
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s already exists", path)
	}
	settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling config: %v", err)
	}
	if err := os.WriteFile(path, settings, 0o644); err != nil {
		return "", fmt.Errorf("writing config: %v", err)
	}
	return path, nil
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the marketplace daemon",
	Long:  "Run the marketplace daemon serving the command and query API.",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, []string{
			cliName,
			"marketd/service",
			"marketd/api",
			"marketd/marketplace",
			"marketd/store",
			"localchain",
		})
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		fin := finalizer.NewFinalizer()

		settings, err := json.MarshalIndent(v.AllSettings(), "", "  ")
		common.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config: %s", string(settings))

		err = common.SetupInstrumentation(v.GetString("metrics-addr"))
		common.CheckErrf("booting instrumentation: %v", err)

		config := service.Config{
			RepoPath:        v.GetString("repo"),
			HTTPListenAddr:  v.GetString("http-addr"),
			Treasury:        v.GetString("treasury-addr"),
			MaxHooksPerKind: v.GetInt("max-hooks-per-kind"),
			HookTimeout:     v.GetDuration("hook-timeout"),
			Minter:          v.GetString("minter-addr"),
			Collection:      v.GetString("collection-addr"),
			Params: market.SudoParams{
				TradingFeeBps:      v.GetUint64("trading-fee-bps"),
				MinPrice:           v.GetUint64("min-price"),
				AskInterval:        v.GetDuration("ask-interval"),
				ValidBidQueryLimit: uint32(v.GetInt("valid-bid-query-limit")),
				CooldownDuration:   v.GetDuration("cooldown-duration"),
				CooldownCancelFee: market.Coin{
					Denom:  v.GetString("fee-denom"),
					Amount: v.GetUint64("cooldown-cancel-fee"),
				},
			},
		}
		serv, err := service.New(config)
		common.CheckErrf("starting service: %v", err)
		fin.Add(serv)

		fmt.Printf("%s listening at %s\n", cliName, v.GetString("http-addr"))

		common.HandleInterrupt(func() {
			common.CheckErr(fin.Cleanupf("closing service: %v", nil))
		})
	},
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
