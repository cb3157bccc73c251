package config

import "time"

// DefaultMinimumStake is the Alpha stake floor a miner must hold to
// compete. Balances are in whole Alpha units.
const DefaultMinimumStake = "500"

// DefaultStakeHoldDuration is how long the stake must have been held
// continuously before the first submission is accepted.
const DefaultStakeHoldDuration = 7 * 24 * time.Hour

// DefaultCooldown is the minimum spacing between two submission
// attempts from the same miner, measured from the prior submitted-at
// timestamp whether the prior attempt was accepted or rejected.
const DefaultCooldown = 24 * time.Hour

// StatementCount is the size of the hidden evaluation set. Every run
// scores exactly this many statements.
const StatementCount = 20

// DefaultStatementTimeout bounds a single /verify call during
// evaluation when the statement does not carry its own limit.
const DefaultStatementTimeout = 300 * time.Second

// AgentPort is the port miner agents must listen on inside their
// container.
const AgentPort = 8080
