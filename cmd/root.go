package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ed25519"

	"github.com/verity-subnet/verity-pool/authentication"
	"github.com/verity-subnet/verity-pool/config"
	"github.com/verity-subnet/verity-pool/engine"
	"github.com/verity-subnet/verity-pool/evaluator"
	"github.com/verity-subnet/verity-pool/exit"
	"github.com/verity-subnet/verity-pool/loghelp"
	"github.com/verity-subnet/verity-pool/profile"
	"github.com/verity-subnet/verity-pool/web"
)

func init() {
	rootCmd.AddCommand(lintStatements)
	rootCmd.AddCommand(newWallet)
	rootCmd.PersistentFlags().String("log", "info", "Change the logging level. Can choose from 'trace', 'debug', 'info', 'warn', 'error', or 'fatal'")
	rootCmd.PersistentFlags().String("phost", "192.168.32.2", "Postgres host url")
	rootCmd.PersistentFlags().Int("pport", 5432, "Postgres host port")
	rootCmd.PersistentFlags().String("statements", "", "Path to the hidden statement set")
	rootCmd.Flags().Bool("prof", false, "Enable the pprof profiler")
	rootCmd.Flags().Int("profport", 6060, "Port for the pprof profiler")
	newWallet.Flags().String("gist", "", "Gist url to sign a submission for")
}

// Execute is cobra's entry point
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:              "verity-pool",
	Short:            "Launch the verification competition pool",
	PersistentPreRun: rootPreRunSetup,
	PreRun:           SoftReadConfig,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		exit.GlobalExitHandler.AddCancel(cancel)
		conf := viper.GetViper()

		if on, _ := cmd.Flags().GetBool("prof"); on {
			port, _ := cmd.Flags().GetInt("profport")
			go profile.StartProfiler(false, port)
		}

		e, err := engine.Setup(conf)
		if err != nil {
			log.WithError(err).Fatal("failed to launch pool")
		}

		services := web.NewHttpServices(conf, e.Database.DB)
		services.SetPool(e)
		services.SetBoard(e.Board)
		services.InitPrimary()
		services.Listen()
		exit.GlobalExitHandler.AddExit(services.Close)

		e.Run(ctx)
	},
}

// rootPreRunSetup is run before the root command
func rootPreRunSetup(cmd *cobra.Command, args []string) {
	// Catch ctl+c
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	go func() {
		<-signalChan
		log.Info("Gracefully closing")

		// We will give it 3 seconds to close gracefully.
		// If anything is hanging beyond that, just kill it.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*3)
		defer cancel()
		err := exit.GlobalExitHandler.CloseWithTimeout(ctx)
		if err != nil {
			log.Warn("took too long to close")
			os.Exit(1)
		}
	}()

	config.SetDefaults(viper.GetViper())
	_ = viper.BindPFlag(config.ConfigSQLHost, cmd.Flags().Lookup("phost"))
	_ = viper.BindPFlag(config.ConfigSQLPort, cmd.Flags().Lookup("pport"))
	_ = viper.BindPFlag(config.LoggingLevel, cmd.Flags().Lookup("log"))
	if f := cmd.Flags().Lookup("statements"); f != nil && f.Changed {
		_ = viper.BindPFlag(config.ConfigEvaluationStatementFile, f)
	}
}

// lintStatements checks a statement set file without starting the
// pool. Run this before rotating a new hidden set in.
var lintStatements = &cobra.Command{
	Use:    "statements <file>",
	Short:  "Validate a statement set file",
	Args:   cobra.ExactArgs(1),
	PreRun: SoftReadConfig,
	Run: func(cmd *cobra.Command, args []string) {
		statements, err := evaluator.LoadStatements(args[0])
		if err != nil {
			log.WithError(err).Fatal("statement set rejected")
		}
		fmt.Printf("%s: %d statements ok\n", args[0], len(statements))
	},
}

// newWallet is miner-side tooling: it mints a keypair and, given a
// gist url, the exact headers an intake request needs.
var newWallet = &cobra.Command{
	Use:    "wallet",
	Short:  "Generate a wallet keypair and optionally sign a submission",
	PreRun: SoftReadConfig,
	Run: func(cmd *cobra.Command, args []string) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			log.WithError(err).Fatal("failed to generate keypair")
		}

		wallet := authentication.AddressFromPublicKey(pub)
		fmt.Printf("wallet:      %s\n", wallet)
		fmt.Printf("private key: %x\n", priv)

		if gist, _ := cmd.Flags().GetString("gist"); gist != "" {
			fmt.Printf("gist_url:    %s\n", gist)
			fmt.Printf("signature:   %s\n", authentication.SignSubmission(priv, wallet, gist))
		}
	},
}

// SoftReadConfig will not fail. It can be used for a command that needs the config,
// but is happy with the defaults
func SoftReadConfig(cmd *cobra.Command, args []string) {
	err := viper.ReadInConfig()
	if err != nil {
		log.WithError(err).Debugf("failed to load config")
	}

	initLogger()
}

func initLogger() {
	switch strings.ToLower(viper.GetString(config.LoggingLevel)) {
	case "trace":
		log.SetLevel(log.TraceLevel)
		log.StandardLogger().Hooks.Add(&loghelp.ContextHook{})
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "fatal":
		log.SetLevel(log.FatalLevel)
	}
}
