package config

import (
	"time"

	"github.com/spf13/viper"
)

// All config locations
const (
	LoggingLevel = "app.loglevel"

	ConfigSQLHost     = "Database.host"
	ConfigSQLPort     = "Database.port"
	ConfigSQLDBName   = "Database.dbname"
	ConfigSQLUsername = "Database.username"
	ConfigSQLPassword = "Database.password"

	ConfigWebPort = "Web.Port"

	ConfigChainLocation     = "Chain.ChaindLocation"
	ConfigStakeMinimum      = "Stake.MinimumBalance"
	ConfigStakeHoldDuration = "Stake.MinimumHoldTime"
	ConfigStakeRecheck      = "Stake.RecheckPeriod"
	ConfigStakeCacheWindow  = "Stake.CacheWindow"

	ConfigSubmissionCooldown = "Submission.Cooldown"

	ConfigGistGithubToken = "Gist.GithubToken"
	ConfigGistAPILocation = "Gist.APILocation"
	ConfigGistTimeout     = "Gist.FetchTimeout"

	ConfigSandboxCapacity  = "Sandbox.Capacity"
	ConfigSandboxCPUs      = "Sandbox.CPUs"
	ConfigSandboxMemory    = "Sandbox.Memory"
	ConfigSandboxBasePort  = "Sandbox.BasePort"
	ConfigSandboxAgentPort = "Sandbox.AgentPort"

	ConfigValidationStartupTimeout = "Validation.StartupTimeout"
	ConfigValidationSmokeTimeout   = "Validation.SmokeTimeout"

	ConfigEvaluationStatementFile = "Evaluation.StatementFile"
	ConfigEvaluationParallelism   = "Evaluation.Parallelism"
	ConfigEvaluationRequestRate   = "Evaluation.RequestsPerSecond"

	ConfigPipelineWorkers = "Pipeline.Workers"
)

func SetDefaults(conf *viper.Viper) {
	// All config defaults
	conf.SetDefault(ConfigSQLHost, "localhost")
	conf.SetDefault(ConfigSQLPort, 5432)
	conf.SetDefault(ConfigSQLDBName, "postgres")
	conf.SetDefault(ConfigSQLUsername, "postgres")
	conf.SetDefault(ConfigSQLPassword, "password")

	conf.SetDefault(ConfigWebPort, 8000)

	conf.SetDefault(ConfigChainLocation, "http://localhost:9944")
	conf.SetDefault(ConfigStakeMinimum, DefaultMinimumStake)
	conf.SetDefault(ConfigStakeHoldDuration, DefaultStakeHoldDuration)
	conf.SetDefault(ConfigStakeRecheck, time.Minute*10)
	conf.SetDefault(ConfigStakeCacheWindow, time.Minute)

	conf.SetDefault(ConfigSubmissionCooldown, DefaultCooldown)

	conf.SetDefault(ConfigGistGithubToken, "")
	conf.SetDefault(ConfigGistAPILocation, "https://api.github.com")
	conf.SetDefault(ConfigGistTimeout, time.Second*30)

	conf.SetDefault(ConfigSandboxCapacity, 4)
	conf.SetDefault(ConfigSandboxCPUs, "8")
	conf.SetDefault(ConfigSandboxMemory, "32g")
	conf.SetDefault(ConfigSandboxBasePort, 18080)
	conf.SetDefault(ConfigSandboxAgentPort, AgentPort)

	conf.SetDefault(ConfigValidationStartupTimeout, time.Minute*5)
	conf.SetDefault(ConfigValidationSmokeTimeout, time.Second*120)

	conf.SetDefault(ConfigEvaluationStatementFile, "statements.json")
	conf.SetDefault(ConfigEvaluationParallelism, 4)
	conf.SetDefault(ConfigEvaluationRequestRate, 2)

	conf.SetDefault(ConfigPipelineWorkers, 4)
}
